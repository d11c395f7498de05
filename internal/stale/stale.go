// Package stale decides whether a channel has gone quiet.
package stale

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"destalinator/internal/model"
)

// SilenceMarker is message text that deliberately does not count as activity.
const SilenceMarker = ":dolphin:"

// Verdict is the outcome of evaluating one channel.
type Verdict int

// Possible verdicts, in the order the checks run.
const (
	TooYoung Verdict = iota
	Ignored
	Restricted
	Active
	Stale
)

func (v Verdict) String() string {
	switch v {
	case TooYoung:
		return "too young"
	case Ignored:
		return "ignored"
	case Restricted:
		return "restricted members"
	case Active:
		return "active"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Policy holds the channel and user exemptions.
type Policy struct {
	channels map[string]bool
	patterns []*regexp.Regexp
	users    map[string]bool
}

// NewPolicy compiles the ignore lists. Patterns use search semantics: they
// may match anywhere in the channel name.
func NewPolicy(channels, patterns, users []string) (*Policy, error) {
	p := &Policy{
		channels: make(map[string]bool, len(channels)),
		users:    make(map[string]bool, len(users)),
	}
	for _, c := range channels {
		p.channels[c] = true
	}
	for _, u := range users {
		p.users[u] = true
	}
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", pat, err)
		}
		p.patterns = append(p.patterns, re)
	}
	return p, nil
}

// IgnoreChannel reports whether a channel is exempt from hygiene sweeps.
func (p *Policy) IgnoreChannel(name string) bool {
	if p.channels[name] {
		return true
	}
	for _, re := range p.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// IgnoreUser reports whether a user id or username is ignored.
func (p *Policy) IgnoreUser(idOrName string) bool {
	return idOrName != "" && p.users[idOrName]
}

// IsActivity reports whether a message counts as human activity: it is not
// from an ignored user and either has text other than the silence marker or
// carries an attachment.
func (p *Policy) IsActivity(m model.Message) bool {
	if p.IgnoreUser(m.User) || p.IgnoreUser(m.Username) {
		return false
	}
	if m.HasAttachments() {
		return true
	}
	return m.Text != "" && m.Text != SilenceMarker
}

// MemberChecker reports whether a channel has guest members.
type MemberChecker interface {
	HasRestrictedMembers(ctx context.Context, channelID string) (bool, error)
}

// MessageSource returns the last days of a channel's messages.
type MessageSource interface {
	Get(ctx context.Context, channelID string, days int) ([]model.Message, error)
}

// Engine evaluates channels against a Policy.
type Engine struct {
	policy   *Policy
	members  MemberChecker
	messages MessageSource
	now      time.Time
	log      *slog.Logger
}

// NewEngine creates an Engine measuring channel ages relative to now.
func NewEngine(policy *Policy, members MemberChecker, messages MessageSource, now time.Time, log *slog.Logger) *Engine {
	return &Engine{
		policy:   policy,
		members:  members,
		messages: messages,
		now:      now,
		log:      log,
	}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Evaluate runs the checks in order and stops at the first verdict.
func (e *Engine) Evaluate(ctx context.Context, ch model.Channel, days int) (Verdict, error) {
	ageDays := int(ch.Age(e.now) / (24 * time.Hour))
	if ageDays <= days {
		return TooYoung, nil
	}
	if e.policy.IgnoreChannel(ch.Name) {
		return Ignored, nil
	}

	restricted, err := e.members.HasRestrictedMembers(ctx, ch.ID)
	if err != nil {
		return Active, fmt.Errorf("check members of %s: %w", ch.Name, err)
	}
	if restricted {
		return Restricted, nil
	}

	msgs, err := e.messages.Get(ctx, ch.ID, days)
	if err != nil {
		return Active, fmt.Errorf("messages of %s: %w", ch.Name, err)
	}
	for _, m := range msgs {
		if e.policy.IsActivity(m) {
			return Active, nil
		}
	}
	return Stale, nil
}

// IsStale reports whether ch has had no qualifying activity in the last days.
func (e *Engine) IsStale(ctx context.Context, ch model.Channel, days int) (bool, error) {
	v, err := e.Evaluate(ctx, ch, days)
	if err != nil {
		return false, err
	}
	e.log.Debug("staleness evaluated", "channel", ch.Name, "days", days, "verdict", v.String())
	return v == Stale, nil
}
