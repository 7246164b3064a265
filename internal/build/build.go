// Package build runs one incremental pass over a repository: it resolves
// groups, fingerprints every page, writes the pages that changed, removes
// the ones no longer produced and commits the new state.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/szaher/repoview/internal/apply"
	"github.com/szaher/repoview/internal/config"
	"github.com/szaher/repoview/internal/events"
	"github.com/szaher/repoview/internal/feed"
	"github.com/szaher/repoview/internal/plan"
	"github.com/szaher/repoview/internal/publish"
	"github.com/szaher/repoview/internal/render"
	"github.com/szaher/repoview/internal/repo"
	"github.com/szaher/repoview/internal/state"
	"github.com/szaher/repoview/internal/telemetry"
	"github.com/szaher/repoview/internal/templates"
)

// Metadata answers the repository queries a pass needs.
type Metadata interface {
	Groups(ctx context.Context) ([]repo.Group, error)
	LetterGroups(ctx context.Context) ([]repo.Group, string, error)
	Package(ctx context.Context, name string) (*repo.Package, error)
	Latest(ctx context.Context, n int) ([]repo.Latest, error)
	Close() error
}

// Renderer produces page bytes. Output must depend only on data.
type Renderer interface {
	Render(w io.Writer, templateID string, data any) error
}

// RenderError aborts a pass when a page cannot be rendered or written.
type RenderError struct {
	Filename string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %s: %v", e.Filename, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Deps are the collaborators of a pass. Zero fields get defaults.
type Deps struct {
	// OpenMetadata opens the repository; defaults to repo.Open.
	OpenMetadata func(ctx context.Context, opts repo.Options) (Metadata, error)

	// Templates supplies the layout assets and, when Renderer is nil, the
	// templates. Defaults to cfg.TemplateDir or the embedded theme.
	Templates fs.FS
	Renderer  Renderer

	Publisher publish.Publisher
	Emitter   events.Emitter
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics

	// Version is shown on every page.
	Version string
	// PassID names the pass; a ULID is generated when empty.
	PassID string
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.OpenMetadata == nil {
		d.OpenMetadata = func(ctx context.Context, opts repo.Options) (Metadata, error) {
			r, err := repo.Open(ctx, opts)
			if err != nil {
				return nil, err
			}
			return r, nil
		}
	}
	if d.Publisher == nil {
		d.Publisher = publish.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Emitter == nil {
		d.Emitter = events.LogEmitter{Logger: d.Logger}
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NewMetrics()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Result summarizes a committed pass.
type Result struct {
	PassID      string
	Fresh       state.FreshReason
	StatePath   string
	Plan        *plan.Plan
	Written     []string
	Skipped     int
	Removed     []string
	Warnings    []apply.OrphanDeleteWarning
	Groups      []string
	FeedWritten bool
	Duration    time.Duration
}

// Run executes one pass. Any error leaves the state store as the previous
// committed pass left it.
func Run(ctx context.Context, cfg config.Config, deps Deps) (res *Result, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	deps = deps.withDefaults()
	ctx = telemetry.WithPassID(ctx, deps.PassID)
	passID := telemetry.PassID(ctx)
	start := deps.Now()

	deps.Emitter.Emit(events.New(events.PassStarted, passID).
		WithData("repo", cfg.RepoDir).
		WithData("force", cfg.Force))
	defer func() {
		took := deps.Now().Sub(start)
		deps.Metrics.ObservePass(took, err == nil, deps.Now())
		if err != nil {
			deps.Emitter.Emit(events.New(events.PassFailed, passID).WithData("error", err.Error()))
		}
	}()

	md, err := deps.OpenMetadata(ctx, repo.Options{
		RepoDir: cfg.RepoDir,
		Comps:   cfg.Comps,
		Filter:  repo.Exclusions(cfg.IgnorePackages, cfg.ExcludeArches),
	})
	if err != nil {
		return nil, err
	}
	defer md.Close()

	renderer, layout, err := resolveTheme(cfg, deps)
	if err != nil {
		return nil, err
	}

	outDir := cfg.OutputPath()
	copied, err := prepareOutput(outDir, layout)
	if err != nil {
		return nil, err
	}

	statePath, err := state.Location(outDir, cfg.StateDir)
	if err != nil {
		return nil, err
	}
	store, err := state.Open(statePath, state.Options{Force: cfg.Force, LockTimeout: cfg.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}
	defer store.Close()

	snapshot, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	p := &Pass{
		ID:       passID,
		cfg:      cfg,
		outDir:   outDir,
		md:       md,
		renderer: renderer,
		detector: plan.NewDetector(store, snapshot),
		deps:     deps,
		log:      telemetry.PassLogger(deps.Logger, ctx, cfg.RepoDir),
		memo:     make(map[string]render.Member),
		fetched:  make(map[string]*repo.Package),
		missing:  make(map[string]bool),
		owners:   make(map[string]string),
	}
	if fresh := store.FreshReason(); fresh != state.NotFresh {
		p.log.Info("starting from empty state", "reason", string(fresh), "state", statePath)
	}
	if copied {
		p.log.Info("copied layout", "dir", filepath.Join(outDir, templates.LayoutDir))
		if err := p.collectLayout(); err != nil {
			return nil, err
		}
	}

	if err := p.run(ctx); err != nil {
		return nil, err
	}

	orphans := p.orphans(store.Discarded())
	if err := p.publish(ctx, orphans); err != nil {
		return nil, err
	}

	reaped, err := apply.Reap(store, orphans, outDir)
	if err != nil {
		return nil, fmt.Errorf("removing orphans: %w", err)
	}
	p.detector.RecordDeleted(reaped.Removed)
	for _, name := range reaped.Removed {
		deps.Metrics.OrphansRemoved.Inc()
		deps.Emitter.Emit(events.New(events.OrphanRemoved, passID).WithData("filename", name))
	}
	for _, w := range reaped.Warnings {
		deps.Emitter.Emit(events.New(events.OrphanMissing, passID).WithData("filename", w.Filename))
	}

	if err := store.Commit(); err != nil {
		return nil, fmt.Errorf("committing state: %w", err)
	}

	res = &Result{
		PassID:      passID,
		Fresh:       store.FreshReason(),
		StatePath:   statePath,
		Plan:        p.detector.Plan(),
		Written:     p.written,
		Skipped:     p.skipped,
		Removed:     reaped.Removed,
		Warnings:    reaped.Warnings,
		Groups:      p.groups,
		FeedWritten: p.feedWritten,
		Duration:    deps.Now().Sub(start),
	}
	deps.Emitter.Emit(events.New(events.PassCompleted, passID).
		WithData("written", len(res.Written)).
		WithData("skipped", res.Skipped).
		WithData("removed", len(res.Removed)))
	return res, nil
}

func resolveTheme(cfg config.Config, deps Deps) (Renderer, fs.FS, error) {
	fsys := deps.Templates
	if fsys == nil {
		var err error
		if fsys, err = templates.Open(cfg.TemplateDir); err != nil {
			return nil, nil, err
		}
	}
	if deps.Renderer != nil {
		return deps.Renderer, fsys, nil
	}
	r, err := render.New(fsys)
	if err != nil {
		return nil, nil, err
	}
	return r, fsys, nil
}

// prepareOutput creates the output directory with mode 0755 and copies the
// layout assets when they are absent.
func prepareOutput(outDir string, layout fs.FS) (bool, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return false, fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.Chmod(outDir, 0o755); err != nil {
		return false, fmt.Errorf("output directory mode: %w", err)
	}
	return templates.CopyLayout(layout, filepath.Join(outDir, templates.LayoutDir))
}

// orphans merges the filenames left pending with the discarded filenames
// that the pass did not produce again, plus a feed that is no longer
// wanted.
func (p *Pass) orphans(discarded []string) []string {
	set := make(map[string]struct{})
	for _, name := range p.detector.Pending() {
		set[name] = struct{}{}
	}
	for _, name := range discarded {
		if !p.detector.Checked(name) {
			set[name] = struct{}{}
		}
	}
	if p.staleFeed {
		set[feed.FileName] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsFatalSetup reports whether err came from unusable repository metadata.
func IsFatalSetup(err error) bool {
	return errors.Is(err, repo.ErrFatalSetup)
}
