// Package cache keeps per-run channel history so a channel's messages are
// fetched at most once per lookback window.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"destalinator/internal/model"
)

// HistoryFetcher fetches a channel's messages between two instants.
type HistoryFetcher interface {
	History(ctx context.Context, channelID string, oldest, latest time.Time) ([]model.Message, error)
}

// MessageCache caches filtered channel history keyed by channel and window
// start. The zero value is not usable; call New.
type MessageCache struct {
	api      HistoryFetcher
	subtypes map[string]bool
	now      time.Time
	log      *slog.Logger

	mu      sync.Mutex
	entries map[string]map[int64][]model.Message
}

// New creates a cache whose windows end at now. Messages with a subtype are
// kept only when the subtype is in includedSubtypes.
func New(api HistoryFetcher, includedSubtypes []string, now time.Time, log *slog.Logger) *MessageCache {
	subtypes := make(map[string]bool, len(includedSubtypes))
	for _, s := range includedSubtypes {
		subtypes[s] = true
	}
	return &MessageCache{
		api:      api,
		subtypes: subtypes,
		now:      now,
		log:      log,
		entries:  make(map[string]map[int64][]model.Message),
	}
}

// Now is the instant every window is measured back from.
func (c *MessageCache) Now() time.Time {
	return c.now
}

// Get returns the last days of a channel's messages in ascending order.
func (c *MessageCache) Get(ctx context.Context, channelID string, days int) ([]model.Message, error) {
	oldest := c.now.Unix() - int64(days)*86400

	c.mu.Lock()
	defer c.mu.Unlock()

	if msgs, ok := c.entries[channelID][oldest]; ok {
		c.log.Debug("cached messages", "channel", channelID, "days", days, "count", len(msgs))
		return msgs, nil
	}

	fetched, err := c.api.History(ctx, channelID, time.Unix(oldest, 0), c.now)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	msgs := slices.DeleteFunc(fetched, func(m model.Message) bool {
		return m.SubType != "" && !c.subtypes[m.SubType]
	})
	c.log.Debug("fetched messages", "channel", channelID, "days", days,
		"fetched", len(fetched), "kept", len(msgs))

	if c.entries[channelID] == nil {
		c.entries[channelID] = make(map[int64][]model.Message)
	}
	c.entries[channelID][oldest] = msgs
	return msgs, nil
}

// Flush drops every cached window for a channel.
func (c *MessageCache) Flush(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[channelID]; ok {
		c.log.Debug("flushing message cache", "channel", channelID)
		delete(c.entries, channelID)
	}
}
