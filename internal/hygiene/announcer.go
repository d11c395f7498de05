package hygiene

import (
	"context"
	"errors"
	"time"

	"destalinator/internal/model"
)

// NewChannel is a channel created within the announcement window.
type NewChannel struct {
	ID      string
	Name    string
	Creator string
	Purpose string
}

// Announcer tells the announce channel about newly created channels.
type Announcer struct {
	env *Env
}

// NewAnnouncer creates an Announcer for one run.
func NewAnnouncer(env *Env) *Announcer {
	return &Announcer{env: env}
}

// NewChannels returns the channels created in the 24 hours before the run.
func (a *Announcer) NewChannels() []NewChannel {
	since := a.env.Now.Add(-24 * time.Hour)

	var out []NewChannel
	for _, ch := range a.env.Dir.Channels() {
		if !ch.Created.After(since) {
			continue
		}
		creator, ok := a.env.Dir.UserName(ch.Creator)
		if !ok {
			creator = ch.Creator
		}
		out = append(out, NewChannel{
			ID:      ch.ID,
			Name:    asciify(ch.Name),
			Creator: asciify(creator),
			Purpose: asciify(ch.Purpose),
		})
	}
	return out
}

// Announce posts one line per new channel and returns how many were
// announced.
func (a *Announcer) Announce(ctx context.Context) (int, error) {
	target := a.env.Config.AnnounceChannel
	channels := a.NewChannels()
	a.env.Log.Info("announcing new channels", "count", len(channels), "channel", target)
	if len(channels) == 0 {
		return 0, nil
	}
	if target == "" || !a.env.Dir.ChannelExists(target) {
		a.env.Log.Warn("announce channel does not exist, not announcing", "channel", target)
		return 0, nil
	}

	var (
		count int
		errs  []error
	)
	for _, ch := range channels {
		text := a.env.Dir.ApplyChannelMarkup(FormatAnnouncement(ch))
		if err := a.env.post(ctx, model.ActionAnnounce, target, text, ""); err != nil {
			if fatal(err) {
				return count, err
			}
			a.env.Log.Error("announce channel", "channel", ch.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}
