package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"destalinator/internal/config"
	"destalinator/internal/logging"
	"destalinator/migrations"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:       "migrate <up|down|status|version>",
		Short:     "Manage the action journal schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := journalPath(opts, dbPath)
			if err != nil {
				return err
			}
			if err := ensureDir(path); err != nil {
				return err
			}
			db, err := sql.Open("sqlite", path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer func() { _ = db.Close() }()

			if err := migrations.Setup(); err != nil {
				return err
			}
			switch args[0] {
			case "up":
				err = goose.UpContext(ctx, db, ".")
			case "down":
				err = goose.DownContext(ctx, db, ".")
			case "status":
				err = goose.StatusContext(ctx, db, ".")
			case "version":
				err = goose.VersionContext(ctx, db, ".")
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", args[0], path, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database, overrides journal_path")
	return cmd
}

// journalPath returns override if set, otherwise the configured journal_path.
func journalPath(opts *rootOptions, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.Load(opts.configPath, logging.New("info", os.Stderr))
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.JournalPath == "" {
		return "", errors.New("journal disabled, set journal_path or pass --db")
	}
	return cfg.JournalPath, nil
}
