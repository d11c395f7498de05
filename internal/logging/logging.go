// Package logging builds the application logger and an optional handler that
// mirrors important records into a Slack channel.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
)

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a text logger writing to w.
func New(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Poster posts a message to a channel.
type Poster interface {
	PostMessage(ctx context.Context, channelID, text, messageType string) error
}

// SlackHandler passes every record to the next handler and also posts
// records at or above its level to a Slack channel. Post failures are
// dropped, and records logged while a post is in flight are not forwarded.
type SlackHandler struct {
	next      slog.Handler
	poster    Poster
	channelID string
	level     slog.Level

	prefix string
	attrs  []slog.Attr
	busy   *atomic.Bool
}

// NewSlackHandler wraps next. channelID must be a resolved channel id.
func NewSlackHandler(next slog.Handler, poster Poster, channelID string, level slog.Level) *SlackHandler {
	return &SlackHandler{
		next:      next,
		poster:    poster,
		channelID: channelID,
		level:     level,
		busy:      &atomic.Bool{},
	}
}

func (h *SlackHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level || h.next.Enabled(ctx, l)
}

func (h *SlackHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r.Clone())
	}
	if r.Level < h.level || !h.busy.CompareAndSwap(false, true) {
		return err
	}
	defer h.busy.Store(false)

	_ = h.poster.PostMessage(context.WithoutCancel(ctx), h.channelID, h.format(r), "")
	return err
}

func (h *SlackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), qualify(h.prefix, attrs)...)
	return &c
}

func (h *SlackHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}

// format renders "[LEVEL]: message key=value ...".
func (h *SlackHandler) format(r slog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]: %s", r.Level, r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
		return true
	})
	return b.String()
}

func qualify(prefix string, attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	fmt.Fprintf(b, " %s=%v", a.Key, a.Value)
}
