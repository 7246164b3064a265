package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/repoview/internal/build"
	"github.com/szaher/repoview/internal/config"
	"github.com/szaher/repoview/internal/events"
	"github.com/szaher/repoview/internal/plan"
	"github.com/szaher/repoview/internal/publish"
	"github.com/szaher/repoview/internal/telemetry"
)

// buildFlags are the settings shared by build and watch. A flag overrides
// the config file only when it was given on the command line.
type buildFlags struct {
	configFile     string
	ignorePackages []string
	excludeArches  []string
	templateDir    string
	outputDir      string
	stateDir       string
	title          string
	url            string
	force          bool
	quiet          bool
	verbose        bool
	comps          string
	latest         int
	lockTimeout    time.Duration
	logFormat      string
	metricsFile    string
	eventsFile     string
	publishS3      string
	jsonOutput     bool
}

func (f *buildFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", "", "YAML config file")
	fs.StringArrayVarP(&f.ignorePackages, "ignore-package", "i", nil, "Skip packages whose name matches this glob, ignoring case (repeatable)")
	fs.StringArrayVarP(&f.excludeArches, "exclude-arch", "x", nil, "Skip packages of this arch (repeatable)")
	fs.StringVarP(&f.templateDir, "template-dir", "k", "", "Use templates from this directory instead of the built-in theme")
	fs.StringVarP(&f.outputDir, "output-dir", "o", config.DefaultOutputDir, "Output directory, relative to the repository")
	fs.StringVarP(&f.stateDir, "state-dir", "s", "", "Keep the state file in this directory instead of the output directory")
	fs.StringVarP(&f.title, "title", "t", config.DefaultTitle, "Repository title")
	fs.StringVarP(&f.url, "url", "u", "", "Repository URL; enables the RSS feed")
	fs.BoolVarP(&f.force, "force", "f", false, "Regenerate every page")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Only print warnings and errors")
	fs.BoolVar(&f.verbose, "verbose", false, "Log every page decision")
	fs.StringVarP(&f.comps, "comps", "c", "", "Use this comps.xml instead of the repository's")
	fs.IntVar(&f.latest, "latest", config.DefaultLatest, "Number of packages on the index and in the feed")
	fs.DurationVar(&f.lockTimeout, "lock-timeout", config.DefaultLockTimeout, "Timeout for acquiring the state file lock")
	fs.StringVar(&f.logFormat, "log-format", telemetry.FormatText, "Log format: text or json")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after each pass")
	fs.StringVar(&f.eventsFile, "events-file", "", "Write the pass events as JSON to this file")
	fs.StringVar(&f.publishS3, "publish-s3", "", "Mirror the output to s3://bucket/prefix")
	fs.BoolVar(&f.jsonOutput, "json", false, "Print the pass summary as JSON")
}

// load reads the config file and applies the flags that were set.
func (f *buildFlags) load(cmd *cobra.Command, repoDir string) (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return cfg, err
	}
	if repoDir != "" {
		cfg.RepoDir = repoDir
	}

	changed := cmd.Flags().Changed
	if changed("ignore-package") {
		cfg.IgnorePackages = f.ignorePackages
	}
	if changed("exclude-arch") {
		cfg.ExcludeArches = f.excludeArches
	}
	if changed("template-dir") {
		cfg.TemplateDir = f.templateDir
	}
	if changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if changed("state-dir") {
		cfg.StateDir = f.stateDir
	}
	if changed("title") {
		cfg.Title = f.title
	}
	if changed("url") {
		cfg.URL = f.url
	}
	if changed("force") {
		cfg.Force = f.force
	}
	if changed("quiet") {
		cfg.Quiet = f.quiet
	}
	if changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if changed("comps") {
		cfg.Comps = f.comps
	}
	if changed("latest") {
		cfg.Latest = f.latest
	}
	if changed("lock-timeout") {
		cfg.LockTimeout = f.lockTimeout
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if changed("events-file") {
		cfg.EventsFile = f.eventsFile
	}
	if changed("publish-s3") {
		cfg.PublishS3 = f.publishS3
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newBuildCmd() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build <repodir>",
		Short: "Generate the pages of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, &flags, args[0])
		},
	}
	flags.register(cmd)

	return cmd
}

func runBuild(cmd *cobra.Command, flags *buildFlags, repoDir string) error {
	cfg, err := flags.load(cmd, repoDir)
	if err != nil {
		return err
	}
	env, err := newEnv(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	res, err := env.pass(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if cfg.Quiet {
		return nil
	}
	return printResult(cmd.OutOrStdout(), res, flags.jsonOutput)
}

// env holds what stays the same across the passes of one invocation.
type env struct {
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	publisher publish.Publisher
}

func newEnv(ctx context.Context, cfg config.Config, stderr io.Writer) (*env, error) {
	logger, err := telemetry.NewLogger(stderr, telemetry.Level(cfg.Quiet, cfg.Verbose), cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	e := &env{
		logger:    logger,
		metrics:   telemetry.NewMetrics(),
		publisher: publish.Nop{},
	}
	if cfg.PublishS3 != "" {
		s3, err := publish.NewS3(ctx, cfg.PublishS3)
		if err != nil {
			return nil, err
		}
		e.publisher = s3
	}
	return e, nil
}

// pass runs one build and writes the metrics and events files, even when
// the pass failed.
func (e *env) pass(ctx context.Context, cfg config.Config) (*build.Result, error) {
	var (
		emitter   events.Emitter = events.LogEmitter{Logger: e.logger}
		collector *events.CollectorEmitter
	)
	if cfg.EventsFile != "" {
		collector = &events.CollectorEmitter{}
		emitter = events.Multi{emitter, collector}
	}

	res, err := build.Run(ctx, cfg, build.Deps{
		Publisher: e.publisher,
		Emitter:   emitter,
		Logger:    e.logger,
		Metrics:   e.metrics,
		Version:   version,
	})

	if cfg.MetricsFile != "" {
		if werr := e.metrics.WriteFile(cfg.MetricsFile); werr != nil {
			e.logger.Warn("writing metrics", "file", cfg.MetricsFile, "error", werr)
		}
	}
	if collector != nil {
		if werr := events.ExportLog(collector.Events, cfg.EventsFile); werr != nil {
			e.logger.Warn("writing events", "file", cfg.EventsFile, "error", werr)
		}
	}
	if err != nil {
		if build.IsFatalSetup(err) {
			return nil, fmt.Errorf("cannot read repository %s: %w", cfg.RepoDir, err)
		}
		return nil, err
	}
	return res, nil
}

func printResult(w io.Writer, res *build.Result, asJSON bool) error {
	if asJSON {
		out, err := plan.FormatJSON(res.Plan)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
		return nil
	}
	fmt.Fprint(w, plan.FormatText(res.Plan))
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
	fmt.Fprintf(w, "\n%d written, %d unchanged, %d removed in %s\n",
		len(res.Written), res.Skipped, len(res.Removed), res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "State saved to %s\n", res.StatePath)
	return nil
}
