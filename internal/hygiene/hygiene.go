// Package hygiene implements the batch actions that keep a workspace tidy:
// warning and archiving stale channels, announcing new ones, flagging
// popular messages and posting activity statistics.
package hygiene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"destalinator/internal/cache"
	"destalinator/internal/config"
	"destalinator/internal/directory"
	"destalinator/internal/model"
	"destalinator/internal/slackapi"
	"destalinator/internal/stale"
	"destalinator/internal/storage"
)

// Message types attached to posts so later runs can recognise them.
const (
	TypeWarning        = "channel_warning"
	TypeArchive        = "channel_archive"
	TypeArchiveMembers = "channel_archive_members"
	TypeWarnInGeneral  = "warn_in_general"
)

// Poster writes to the workspace.
type Poster interface {
	PostMessage(ctx context.Context, channelID, text, messageType string) error
	Archive(ctx context.Context, channelID string) error
}

// API is everything the workflows need from Slack beyond the directory.
type API interface {
	Poster
	History(ctx context.Context, channelID string, oldest, latest time.Time) ([]model.Message, error)
	Emoji(ctx context.Context) (map[string]string, error)
}

// Env is the per-run state shared by the workflows of one job.
type Env struct {
	Config  *config.Config
	API     API
	Dir     *directory.Directory
	Cache   *cache.MessageCache
	Engine  *stale.Engine
	Journal storage.Journal
	Log     *slog.Logger
	Now     time.Time
}

// NewEnv wires a directory-backed message cache and staleness engine.
func NewEnv(cfg *config.Config, api API, dir *directory.Directory, journal storage.Journal, now time.Time, log *slog.Logger) (*Env, error) {
	policy, err := stale.NewPolicy(cfg.IgnoreChannels, cfg.IgnoreChannelPatterns, cfg.IgnoreUsers)
	if err != nil {
		return nil, err
	}
	if journal == nil {
		journal = storage.Discard{}
	}
	c := cache.New(api, cfg.IncludedSubtypes, now, log)
	return &Env{
		Config:  cfg,
		API:     api,
		Dir:     dir,
		Cache:   c,
		Engine:  stale.NewEngine(policy, dir, c, now, log),
		Journal: journal,
		Log:     log,
		Now:     now,
	}, nil
}

// post sends text to a channel by name, or only logs it in dry-run mode.
func (e *Env) post(ctx context.Context, kind model.ActionKind, channel, text, messageType string) error {
	id, ok := e.Dir.ChannelIDFor(channel)
	if !ok {
		return fmt.Errorf("post to #%s: channel not found", channel)
	}
	if !e.Config.Activated {
		e.Log.Info("dry run, not posting", "action", kind, "channel", channel, "text", text)
		e.record(ctx, model.Action{Kind: kind, Channel: channel, Detail: text, DryRun: true})
		return nil
	}

	err := e.API.PostMessage(ctx, id, text, messageType)
	e.record(ctx, model.Action{Kind: kind, Channel: channel, Detail: text, Failed: err != nil})
	if err != nil {
		return fmt.Errorf("post to #%s: %w", channel, err)
	}
	return nil
}

// record writes to the journal. Journal failures never fail a run.
func (e *Env) record(ctx context.Context, a model.Action) {
	if err := e.Journal.RecordAction(ctx, &a); err != nil {
		e.Log.Warn("record action", "action", a.Kind, "channel", a.Channel, "error", err)
	}
}

// fatal reports whether an error must stop the whole workflow rather than
// just the current channel.
func fatal(err error) bool {
	return errors.Is(err, slackapi.ErrForbidden) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// asciify strips accents and drops whatever non-ASCII remains.
func asciify(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, folded)
}
