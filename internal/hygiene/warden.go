package hygiene

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"destalinator/internal/model"
	"destalinator/templates"
)

// Warden warns stale channels and archives them once the grace period has
// passed.
type Warden struct {
	env    *Env
	texts  templates.Texts
	warned map[string]bool
}

// NewWarden creates a Warden for one run.
func NewWarden(env *Env, texts templates.Texts) *Warden {
	return &Warden{env: env, texts: texts, warned: make(map[string]bool)}
}

func (w *Warden) channel(name string) (model.Channel, error) {
	ch, ok := w.env.Dir.ChannelByName(name)
	if !ok {
		return model.Channel{}, fmt.Errorf("channel #%s not found", name)
	}
	return ch, nil
}

// Warn posts the warning text to a channel unless it already carries a
// warning from the last days. force posts regardless. It reports whether a
// warning was (or in dry-run would have been) posted.
func (w *Warden) Warn(ctx context.Context, name string, days int, force bool) (bool, error) {
	log := w.env.Log.With("channel", name)
	ch, err := w.channel(name)
	if err != nil {
		return false, err
	}

	restricted, err := w.env.Dir.HasRestrictedMembers(ctx, ch.ID)
	if err != nil {
		return false, fmt.Errorf("warn #%s: %w", name, err)
	}
	if restricted {
		log.Debug("not warning, channel has restricted members")
		return false, nil
	}
	if w.env.Engine.Policy().IgnoreChannel(name) {
		log.Debug("not warning, channel is ignored")
		return false, nil
	}

	warning := w.env.Dir.ApplyChannelMarkup(w.texts.Warning)
	if !force {
		if w.warned[name] {
			log.Debug("not warning, already warned in this run")
			return false, nil
		}
		// Raw history: the bot's own posts come back as bot_message, which
		// the message cache filters out.
		oldest := w.env.Now.Add(-time.Duration(days) * 24 * time.Hour)
		msgs, err := w.env.API.History(ctx, ch.ID, oldest, w.env.Now)
		if err != nil {
			return false, fmt.Errorf("warn #%s: %w", name, err)
		}
		if hasWarning(msgs, warning) {
			log.Debug("not warning, found a prior warning")
			return false, nil
		}
	}

	if err := w.env.post(ctx, model.ActionWarn, name, warning, TypeWarning); err != nil {
		return false, err
	}
	w.warned[name] = true
	w.env.Cache.Flush(ch.ID)
	log.Info("warned channel", "action", model.ActionWarn, "dry_run", !w.env.Config.Activated)
	return true, nil
}

func hasWarning(msgs []model.Message, warning string) bool {
	warning = strings.TrimSpace(warning)
	for _, m := range msgs {
		if m.HasFallback(TypeWarning) {
			return true
		}
		if m.Text != "" && strings.TrimSpace(m.Text) == warning {
			return true
		}
	}
	return false
}

// WarnAll warns every stale channel, in name order, then posts one notice
// listing them to the general channel. It returns the warned channels.
// Errors on individual channels are collected and do not stop the sweep,
// except for permission errors and cancellation.
func (w *Warden) WarnAll(ctx context.Context, days int, force bool) ([]string, error) {
	if !w.env.Config.Activated {
		w.env.Log.Info("not activated, running in dry-run mode; set DESTALINATOR_ACTIVATED=true to post")
	}
	w.env.Log.Info("warning stale channels", "days", days, "force", force)

	var (
		warned []string
		errs   []error
	)
	for _, name := range w.env.Dir.Names() {
		if w.env.Engine.Policy().IgnoreChannel(name) {
			w.env.Log.Debug("not warning, channel is ignored", "channel", name)
			continue
		}
		ok, err := w.warnIfStale(ctx, name, days, force)
		if err != nil {
			if fatal(err) {
				return warned, err
			}
			w.env.Log.Error("warn channel", "channel", name, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			warned = append(warned, name)
		}
	}

	if len(warned) > 0 && w.env.Config.GeneralMessageChannel != "" {
		if err := w.WarnInGeneral(ctx, warned); err != nil {
			errs = append(errs, err)
		}
	}
	return warned, errors.Join(errs...)
}

func (w *Warden) warnIfStale(ctx context.Context, name string, days int, force bool) (bool, error) {
	ch, err := w.channel(name)
	if err != nil {
		return false, err
	}
	defer w.env.Cache.Flush(ch.ID)

	isStale, err := w.env.Engine.IsStale(ctx, ch, days)
	if err != nil || !isStale {
		return false, err
	}
	return w.Warn(ctx, name, days, force)
}

// WarnInGeneral tells the general channel which channels were just warned.
func (w *Warden) WarnInGeneral(ctx context.Context, names []string) error {
	general := w.env.Config.GeneralMessageChannel
	if len(names) == 0 || general == "" {
		return nil
	}
	if !w.env.Dir.ChannelExists(general) {
		w.env.Log.Warn("general message channel does not exist", "channel", general)
		return nil
	}
	text := w.env.Dir.ApplyChannelMarkup(FormatGeneralNotice(names, w.env.Config.GracePeriod()))
	if err := w.env.post(ctx, model.ActionNotify, general, text, TypeWarnInGeneral); err != nil {
		return err
	}
	w.env.Log.Debug("notified general channel", "channel", general, "stale", len(names))
	return nil
}

// Archive posts the closure text and member list, then archives the
// channel. A failed archive call is logged and journaled but not returned.
func (w *Warden) Archive(ctx context.Context, name string) error {
	log := w.env.Log.With("channel", name)
	if w.env.Engine.Policy().IgnoreChannel(name) {
		log.Debug("not archiving, channel is ignored")
		return nil
	}
	ch, err := w.channel(name)
	if err != nil {
		return err
	}

	closure := w.env.Dir.ApplyChannelMarkup(w.texts.Closure)
	if err := w.env.post(ctx, model.ActionArchive, name, closure, TypeArchive); err != nil {
		return err
	}
	members, err := w.env.Dir.MemberNames(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("archive #%s: %w", name, err)
	}
	if err := w.env.post(ctx, model.ActionArchive, name, FormatMembers(members), TypeArchiveMembers); err != nil {
		return err
	}

	if !w.env.Config.Activated {
		log.Info("dry run, not archiving", "action", model.ActionArchive)
		w.env.record(ctx, model.Action{Kind: model.ActionArchive, Channel: name, Detail: "archive", DryRun: true})
		return nil
	}

	log.Info("archiving channel", "action", model.ActionArchive)
	err = w.env.API.Archive(ctx, ch.ID)
	w.env.record(ctx, model.Action{Kind: model.ActionArchive, Channel: name, Detail: "archive", Failed: err != nil})
	if err != nil {
		if fatal(err) {
			return fmt.Errorf("archive #%s: %w", name, err)
		}
		log.Error("failed to archive channel", "error", err)
		return nil
	}
	log.Info("archived channel")
	return nil
}

// SafeArchive archives a channel unless it has restricted members or the
// earliest archive date has not been reached. It reports whether the
// channel was handed to Archive.
func (w *Warden) SafeArchive(ctx context.Context, name string) (bool, error) {
	log := w.env.Log.With("channel", name)
	ch, err := w.channel(name)
	if err != nil {
		return false, err
	}

	restricted, err := w.env.Dir.HasRestrictedMembers(ctx, ch.ID)
	if err != nil {
		return false, fmt.Errorf("safe archive #%s: %w", name, err)
	}
	if restricted {
		log.Debug("not archiving, channel has restricted members")
		return false, nil
	}

	earliest := w.env.Config.EarliestArchiveDate
	if today(w.env.Now).Before(today(earliest)) {
		log.Debug("not archiving yet", "earliest_archive_date", earliest.Format("2006-01-02"))
		return false, nil
	}
	if err := w.Archive(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}

func today(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SafeArchiveAll archives every channel stale for more than days, in name
// order, and returns the channels handed to Archive.
func (w *Warden) SafeArchiveAll(ctx context.Context, days int) ([]string, error) {
	w.env.Log.Info("safe-archiving stale channels", "days", days)

	var (
		archived []string
		errs     []error
	)
	for _, name := range w.env.Dir.Names() {
		ok, err := w.archiveIfStale(ctx, name, days)
		if err != nil {
			if fatal(err) {
				return archived, err
			}
			w.env.Log.Error("archive channel", "channel", name, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			archived = append(archived, name)
		}
	}
	return archived, errors.Join(errs...)
}

func (w *Warden) archiveIfStale(ctx context.Context, name string, days int) (bool, error) {
	ch, err := w.channel(name)
	if err != nil {
		return false, err
	}
	defer w.env.Cache.Flush(ch.ID)

	isStale, err := w.env.Engine.IsStale(ctx, ch, days)
	if err != nil || !isStale {
		return false, err
	}
	return w.SafeArchive(ctx, name)
}
