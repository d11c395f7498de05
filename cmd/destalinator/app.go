package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"destalinator/internal/config"
	"destalinator/internal/logging"
	"destalinator/internal/model"
	"destalinator/internal/scheduler"
	"destalinator/internal/slackapi"
	"destalinator/internal/storage"
	"destalinator/internal/telemetry"
	"destalinator/templates"
)

// app holds everything a command needs for one invocation.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	client   *slackapi.Client
	journal  storage.Journal
	deps     scheduler.Deps
	shutdown telemetry.Shutdown
}

func setup(ctx context.Context, configPath, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath, logging.New("info", os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logging.New(cfg.LogLevel, os.Stderr)

	shutdown, err := telemetry.Init(ctx, cfg.TelemetryEnabled, version)
	if err != nil {
		return nil, err
	}

	journal, err := openJournal(ctx, cfg.JournalPath, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	client := slackapi.New(http.DefaultClient, slackapi.Options{
		Token:        cfg.APIToken,
		APIURL:       cfg.APIURL,
		BotName:      cfg.BotName,
		BotAvatarURL: cfg.BotAvatarURL,
		PageSize:     cfg.PageSize,
	}, log)

	if cfg.Activated && cfg.LogToChannel && cfg.LogChannel != "" {
		id, err := channelID(ctx, client, cfg.LogChannel)
		if err != nil {
			log.Warn("not logging to slack channel", "channel", cfg.LogChannel, "error", err)
		} else {
			h := logging.NewSlackHandler(log.Handler(), client, id, logging.ParseLevel(cfg.SlackLogLevel))
			log = slog.New(h)
			log.Debug("logging to slack channel", "channel", cfg.LogChannel, "id", id)
		}
	}

	texts, err := templates.Load(cfg.WarningTextFile, cfg.ClosureTextFile)
	if err != nil {
		_ = journal.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("load texts: %w", err)
	}

	log.Debug("configuration loaded", "activated", cfg.Activated,
		"warn_threshold", cfg.WarnThreshold, "archive_threshold", cfg.ArchiveThreshold)

	return &app{
		cfg:     cfg,
		log:     log,
		client:  client,
		journal: journal,
		deps: scheduler.Deps{
			Config:  cfg,
			API:     client,
			Journal: journal,
			Texts:   texts,
			Now:     time.Now,
			Log:     log,
		},
		shutdown: shutdown,
	}, nil
}

func openJournal(ctx context.Context, path string, log *slog.Logger) (storage.Journal, error) {
	if path == "" {
		return storage.Discard{}, nil
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	journal, err := storage.NewSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	log.Debug("journal opened", "path", path)
	return journal, nil
}

type channelLister interface {
	Channels(ctx context.Context, excludeArchived bool) ([]model.Channel, error)
}

// channelID resolves a channel name, with or without a leading '#'.
func channelID(ctx context.Context, api channelLister, name string) (string, error) {
	channels, err := api.Channels(ctx, true)
	if err != nil {
		return "", err
	}
	name = strings.TrimPrefix(name, "#")
	for _, ch := range channels {
		if ch.Name == name {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("channel #%s not found", name)
}

// ensureDir creates the directory holding the journal file.
func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	st := a.client.Stats()
	a.log.Debug("slack api usage", "calls", st.Calls, "retries", st.Retries,
		"rate_limited", st.RateLimited, "waited", st.Waited)

	if err := a.journal.Close(); err != nil {
		a.log.Error("close journal", "error", err)
	}
	if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
		a.log.Error("shutdown telemetry", "error", err)
	}
}
