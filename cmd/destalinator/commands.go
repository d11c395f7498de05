package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"destalinator/internal/config"
	"destalinator/internal/hygiene"
	"destalinator/internal/scheduler"
	"destalinator/internal/storage"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "destalinator",
		Short: "Keep a Slack workspace tidy",
		Long: `Warns about and archives stale channels, announces new channels,
flags popular messages and posts activity statistics.

Nothing is posted or archived unless activated is true.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultFile, "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(
		newWarnCmd(opts),
		newEnvCmd(opts, "archive", "Archive channels stale past the archive threshold", func(ctx context.Context, a *app, env *hygiene.Env) error {
			_, err := hygiene.NewWarden(env, a.deps.Texts).SafeArchiveAll(ctx, a.cfg.ArchiveThreshold)
			return err
		}),
		newEnvCmd(opts, "announce", "Announce channels created in the last 24 hours", func(ctx context.Context, _ *app, env *hygiene.Env) error {
			_, err := hygiene.NewAnnouncer(env).Announce(ctx)
			return err
		}),
		newEnvCmd(opts, "flag", "Repost messages matching the control channel's reaction rules", func(ctx context.Context, _ *app, env *hygiene.Env) error {
			_, err := hygiene.NewFlagger(env).Flag(ctx)
			return err
		}),
		newEnvCmd(opts, "stats", "Post the busiest channels and users of the last 24 hours", func(ctx context.Context, _ *app, env *hygiene.Env) error {
			return hygiene.NewStats(env).Post(ctx)
		}),
		newRunCmd(opts),
		newScheduleCmd(opts),
		newHistoryCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// withApp runs fn with a fully wired app and tears it down afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := setup(ctx, opts.configPath, opts.logLevel)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(ctx, a)
}

func newEnvCmd(opts *rootOptions, use, short string, fn func(ctx context.Context, a *app, env *hygiene.Env) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				env, err := a.deps.Env(ctx)
				if err != nil {
					return err
				}
				if err := fn(ctx, a, env); err != nil {
					a.log.Error("command failed", "command", use, "error", err)
					if a.cfg.FailFast {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newWarnCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := newEnvCmd(opts, "warn", "Warn channels stale past the warn threshold", func(ctx context.Context, a *app, env *hygiene.Env) error {
		_, err := hygiene.NewWarden(env, a.deps.Texts).WarnAll(ctx, a.cfg.WarnThreshold, force)
		return err
	})
	cmd.Flags().BoolVar(&force, "force", false, "warn even if a recent warning exists")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run warn, archive, announce, flag and stats once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return newScheduler(a).RunOnce(ctx)
			})
		},
	}
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the batch every day at run_hour until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				a.log.Info("starting scheduler", "run_hour", a.cfg.RunHour)
				newScheduler(a).Run(ctx)
				a.log.Info("scheduler stopped")
				return nil
			})
		},
	}
}

func newScheduler(a *app) *scheduler.Scheduler {
	return scheduler.NewDaily(a.deps, a.cfg.RunHour, a.cfg.FailFast)
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent journaled actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, ok := a.journal.(storage.Discard); ok {
					return errors.New("journal disabled, set journal_path")
				}
				actions, err := a.journal.ListActions(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, act := range actions {
					mode := ""
					switch {
					case act.DryRun:
						mode = " (dry run)"
					case act.Failed:
						mode = " (failed)"
					}
					fmt.Fprintf(out, "%s  %-8s #%s%s  %s\n",
						act.CreatedAt.Local().Format(time.DateTime), act.Kind, act.Channel, mode, act.Detail)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of actions to show, 0 for all")
	return cmd
}
