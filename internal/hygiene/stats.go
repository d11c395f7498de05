package hygiene

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"destalinator/internal/model"
)

// Count is a message count for a channel or user name.
type Count struct {
	Name  string
	Count int
}

// Stats reports the busiest channels and users of the last 24 hours.
type Stats struct {
	env *Env
}

// NewStats creates a Stats reporter for one run.
func NewStats(env *Env) *Stats {
	return &Stats{env: env}
}

// Collect counts the last 24 hours of messages per channel and per user,
// each sorted by descending count, then by name.
func (s *Stats) Collect(ctx context.Context) (channels, users []Count, err error) {
	since := s.env.Now.Add(-24 * time.Hour)
	policy := s.env.Engine.Policy()
	ignoredUsers := make(map[string]bool, len(s.env.Config.StatsIgnoreUsers))
	for _, u := range s.env.Config.StatsIgnoreUsers {
		ignoredUsers[u] = true
	}

	byUser := make(map[string]int)
	for _, name := range s.env.Dir.Names() {
		if policy.IgnoreChannel(name) {
			s.env.Log.Debug("not counting ignored channel", "channel", name)
			continue
		}
		ch, _ := s.env.Dir.ChannelByName(name)
		msgs, err := s.env.API.History(ctx, ch.ID, since, s.env.Now)
		if err != nil {
			return nil, nil, fmt.Errorf("stats for #%s: %w", name, err)
		}
		channels = append(channels, Count{Name: name, Count: len(msgs)})

		for _, m := range msgs {
			if user := s.userName(m); user != "" && !ignoredUsers[user] {
				byUser[user]++
			}
		}
	}
	for name, n := range byUser {
		users = append(users, Count{Name: name, Count: n})
	}

	rank(channels)
	rank(users)
	return channels, users, nil
}

func (s *Stats) userName(m model.Message) string {
	if m.User == "" {
		return ""
	}
	if name, ok := s.env.Dir.UserName(m.User); ok {
		return name
	}
	return m.User
}

func rank(counts []Count) {
	slices.SortFunc(counts, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

// Post collects statistics and posts them to the stats channel.
func (s *Stats) Post(ctx context.Context) error {
	cfg := s.env.Config
	if !cfg.StatsEnabled {
		s.env.Log.Info("stats disabled, not collecting")
		return nil
	}
	if !s.env.Dir.ChannelExists(cfg.StatsChannel) {
		s.env.Log.Warn("stats channel does not exist, not posting", "channel", cfg.StatsChannel)
		return nil
	}

	s.env.Log.Info("collecting stats")
	channels, users, err := s.Collect(ctx)
	if err != nil {
		return err
	}
	text := FormatStats(channels, users, cfg.StatsChannelTopN, cfg.StatsUserTopN)
	return s.env.post(ctx, model.ActionStats, cfg.StatsChannel, text, "")
}
