// Package config holds the settings of a repoview build and loads them
// from an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/szaher/repoview/internal/publish"
	"github.com/szaher/repoview/internal/telemetry"
)

// Defaults for settings that are not given.
const (
	DefaultOutputDir   = "repoview"
	DefaultTitle       = "RepoView"
	DefaultLatest      = 30
	DefaultLockTimeout = 30 * time.Second
	DefaultDebounce    = 2 * time.Second
)

// Config describes one repository build.
type Config struct {
	RepoDir        string        `yaml:"repo_dir,omitempty"`
	IgnorePackages []string      `yaml:"ignore_packages,omitempty"`
	ExcludeArches  []string      `yaml:"exclude_arches,omitempty"`
	TemplateDir    string        `yaml:"template_dir,omitempty"`
	OutputDir      string        `yaml:"output_dir,omitempty"`
	StateDir       string        `yaml:"state_dir,omitempty"`
	Title          string        `yaml:"title,omitempty"`
	URL            string        `yaml:"url,omitempty"`
	Force          bool          `yaml:"force,omitempty"`
	Quiet          bool          `yaml:"quiet,omitempty"`
	Verbose        bool          `yaml:"verbose,omitempty"`
	Comps          string        `yaml:"comps,omitempty"`
	Latest         int           `yaml:"latest,omitempty"`
	LockTimeout    time.Duration `yaml:"lock_timeout,omitempty"`
	LogFormat      string        `yaml:"log_format,omitempty"`
	MetricsFile    string        `yaml:"metrics_file,omitempty"`
	EventsFile     string        `yaml:"events_file,omitempty"`
	PublishS3      string        `yaml:"publish_s3,omitempty"`
	Watch          Watch         `yaml:"watch,omitempty"`
}

// Watch configures the long-running watcher.
type Watch struct {
	Schedule string        `yaml:"schedule,omitempty"`
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// Defaults returns a configuration with every default filled in.
func Defaults() Config {
	return Config{
		OutputDir:   DefaultOutputDir,
		Title:       DefaultTitle,
		Latest:      DefaultLatest,
		LockTimeout: DefaultLockTimeout,
		LogFormat:   telemetry.FormatText,
		Watch:       Watch{Debounce: DefaultDebounce},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// OutputPath returns the output directory; relative names live inside the
// repository.
func (c *Config) OutputPath() string {
	if filepath.IsAbs(c.OutputDir) {
		return c.OutputDir
	}
	return filepath.Join(c.RepoDir, c.OutputDir)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.RepoDir == "" {
		result = multierror.Append(result, fmt.Errorf("repository directory is required"))
	}
	if c.OutputDir == "" {
		result = multierror.Append(result, fmt.Errorf("output_dir must not be empty"))
	}
	if c.Latest < 0 {
		result = multierror.Append(result, fmt.Errorf("latest must not be negative, got %d", c.Latest))
	}
	if c.LockTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("lock_timeout must be positive, got %s", c.LockTimeout))
	}
	if c.Watch.Debounce < 0 {
		result = multierror.Append(result, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	switch c.LogFormat {
	case telemetry.FormatText, telemetry.FormatJSON:
	default:
		result = multierror.Append(result, fmt.Errorf("log_format must be %q or %q, got %q",
			telemetry.FormatText, telemetry.FormatJSON, c.LogFormat))
	}
	for _, g := range c.IgnorePackages {
		if _, err := path.Match(g, ""); err != nil {
			result = multierror.Append(result, fmt.Errorf("ignore pattern %q: %w", g, err))
		}
	}
	for _, a := range c.ExcludeArches {
		if a == "" {
			result = multierror.Append(result, fmt.Errorf("exclude_arches contains an empty arch"))
		}
	}
	if c.URL != "" {
		if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("url %q must be an absolute http(s) URL", c.URL))
		}
	}
	if c.PublishS3 != "" {
		if _, _, err := publish.ParseTarget(c.PublishS3); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.Watch.Schedule != "" {
		if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
			result = multierror.Append(result, fmt.Errorf("watch.schedule %q: %w", c.Watch.Schedule, err))
		}
	}

	return result.ErrorOrNil()
}
