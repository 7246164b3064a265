// Package watch re-runs build passes when repository metadata changes or
// on a schedule. Passes never overlap.
package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Trigger reasons passed to PassFunc.
const (
	ReasonStartup  = "startup"
	ReasonChanged  = "repodata changed"
	ReasonSchedule = "schedule"
)

// PassFunc runs one build pass.
type PassFunc func(ctx context.Context, reason string) error

// Options configures a watcher.
type Options struct {
	RepoDir string

	// Schedule is a cron expression for periodic passes; empty disables.
	Schedule string

	// Debounce is how long metadata must stay quiet before a pass starts.
	Debounce time.Duration

	Logger *slog.Logger
}

// Run performs a pass at startup and then one per burst of metadata
// changes or schedule tick, until ctx is cancelled. A failed pass is
// logged and the watcher keeps going.
func Run(ctx context.Context, opts Options, pass PassFunc) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var sched cron.Schedule
	if opts.Schedule != "" {
		var err error
		if sched, err = cron.ParseStandard(opts.Schedule); err != nil {
			return fmt.Errorf("schedule %q: %w", opts.Schedule, err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Close()

	dataDir := filepath.Join(opts.RepoDir, "repodata")
	if err := w.Add(opts.RepoDir); err != nil {
		return fmt.Errorf("watching %s: %w", opts.RepoDir, err)
	}
	// repodata may not exist yet; its creation is seen on RepoDir.
	_ = w.Add(dataDir)

	triggers := make(chan string, 1)
	trigger := func(reason string) {
		select {
		case triggers <- reason:
		default:
		}
	}
	trigger(ReasonStartup)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watchEvents(ctx, w, dataDir, opts.Debounce, trigger, logger)
	})

	if sched != nil {
		c := cron.New()
		c.Schedule(sched, cron.FuncJob(func() { trigger(ReasonSchedule) }))
		c.Start()
		g.Go(func() error {
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case reason := <-triggers:
				logger.Info("starting pass", "reason", reason)
				if err := pass(ctx, reason); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					logger.Error("pass failed", "reason", reason, "error", err)
				}
			}
		}
	})

	return g.Wait()
}

func watchEvents(ctx context.Context, w *fsnotify.Watcher, dataDir string, debounce time.Duration,
	trigger func(string), logger *slog.Logger) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, dataDir) {
				continue
			}
			// createrepo swaps the whole directory in; follow the new one.
			if ev.Name == dataDir && ev.Has(fsnotify.Create) {
				if err := w.Add(dataDir); err != nil {
					logger.Warn("re-watching repodata", "error", err)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-fire:
			fire = nil
			trigger(ReasonChanged)
		}
	}
}

func relevant(ev fsnotify.Event, dataDir string) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return ev.Name == dataDir || filepath.Dir(ev.Name) == dataDir
}
