package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/repoview/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		flags    buildFlags
		schedule string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <repodir>",
		Short: "Rebuild whenever the repository metadata changes",
		Long: `Runs a build at startup and again after every change under repodata/,
and optionally on a cron schedule. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd, args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Watch.Schedule = schedule
			}
			if cmd.Flags().Changed("debounce") {
				cfg.Watch.Debounce = debounce
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			env, err := newEnv(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			return watch.Run(ctx, watch.Options{
				RepoDir:  cfg.RepoDir,
				Schedule: cfg.Watch.Schedule,
				Debounce: cfg.Watch.Debounce,
				Logger:   env.logger,
			}, func(ctx context.Context, reason string) error {
				res, err := env.pass(ctx, cfg)
				if err != nil {
					return err
				}
				env.logger.Info("pass complete",
					"reason", reason,
					"pass_id", res.PassID,
					"written", len(res.Written),
					"unchanged", res.Skipped,
					"removed", len(res.Removed),
					"took", res.Duration)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&schedule, "schedule", "", "Also rebuild on this cron schedule (e.g. \"@hourly\")")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period after a metadata change before rebuilding")

	return cmd
}
