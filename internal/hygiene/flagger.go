package hygiene

import (
	"context"
	"errors"
	"fmt"
	"time"

	"destalinator/internal/flag"
	"destalinator/internal/model"
)

// Flagger reposts messages whose reactions satisfy a rule defined in the
// control channel.
type Flagger struct {
	env *Env
}

// NewFlagger creates a Flagger for one run.
func NewFlagger(env *Env) *Flagger {
	return &Flagger{env: env}
}

// Rules replays the control channel's full history into a rule table. It
// reports false when the control channel does not exist.
func (f *Flagger) Rules(ctx context.Context) (*flag.RuleSet, bool, error) {
	control := f.env.Config.ControlChannel
	id, ok := f.env.Dir.ChannelIDFor(control)
	if control == "" || !ok {
		f.env.Log.Warn("control channel does not exist, not flagging", "channel", control)
		return nil, false, nil
	}

	msgs, err := f.env.API.History(ctx, id, time.Unix(0, 0), f.env.Now)
	if err != nil {
		return nil, false, fmt.Errorf("read control channel: %w", err)
	}
	rules := flag.Replay(msgs, f.env.Dir, f.env.Log)
	f.env.Log.Debug("control rules loaded", "channel", control, "rules", rules.Len())
	return rules, true, nil
}

func (f *Flagger) equivalence(ctx context.Context) (flag.Equivalence, error) {
	table, err := f.env.API.Emoji(ctx)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		f.env.Log.Warn("list emoji, continuing without aliases", "error", err)
		return flag.Equivalence{}, nil
	}
	return flag.NewEquivalence(table), nil
}

// Flag scans the last 24 hours of every channel and posts each matching
// message once to every destination of its matched rules. It returns the
// number of posts made.
func (f *Flagger) Flag(ctx context.Context) (int, error) {
	rules, ok, err := f.Rules(ctx)
	if err != nil || !ok {
		return 0, err
	}
	if rules.Len() == 0 {
		f.env.Log.Info("no flag rules defined")
		return 0, nil
	}
	eq, err := f.equivalence(ctx)
	if err != nil {
		return 0, err
	}

	since := f.env.Now.Add(-24 * time.Hour)
	var (
		posted int
		errs   []error
	)
	for _, name := range f.env.Dir.Names() {
		ch, _ := f.env.Dir.ChannelByName(name)
		msgs, err := f.env.API.History(ctx, ch.ID, since, f.env.Now)
		if err != nil {
			if fatal(err) {
				return posted, err
			}
			f.env.Log.Error("read channel history", "channel", name, "error", err)
			errs = append(errs, err)
			continue
		}
		for _, m := range msgs {
			n, err := f.flagMessage(ctx, ch, m, rules, eq)
			posted += n
			if err != nil {
				if fatal(err) {
					return posted, err
				}
				errs = append(errs, err)
			}
		}
	}
	f.env.Log.Info("flagged messages", "posts", posted)
	return posted, errors.Join(errs...)
}

func (f *Flagger) flagMessage(ctx context.Context, ch model.Channel, m model.Message, rules *flag.RuleSet, eq flag.Equivalence) (int, error) {
	matched := rules.Match(m, eq)
	if len(matched) == 0 {
		return 0, nil
	}

	author, ok := f.env.Dir.UserName(m.User)
	if !ok {
		author = m.Username
	}
	if author == "" {
		author = m.User
	}
	text := f.env.Dir.Detokenize(asciify(m.Text))
	link := MessageLink(f.env.Config.SlackName, ch.ID, m.Timestamp)
	out := FormatFlagged("@"+author, ch.Name, text, link)

	var (
		posted int
		errs   []error
	)
	seen := make(map[string]bool)
	for _, rule := range matched {
		if seen[rule.Destination] {
			continue
		}
		seen[rule.Destination] = true

		if !f.env.Dir.ChannelExists(rule.Destination) {
			f.env.Log.Warn("flag destination does not exist",
				"destination", rule.Destination, "rule", rule.ID,
				"emoji", rule.Emoji, "comparator", rule.Comparator, "threshold", rule.Threshold)
			continue
		}
		f.env.Log.Debug("flagging message", "channel", ch.Name, "ts", m.Timestamp, "destination", rule.Destination)
		if err := f.env.post(ctx, model.ActionFlag, rule.Destination, out, ""); err != nil {
			if fatal(err) {
				return posted, err
			}
			f.env.Log.Error("post flagged message", "destination", rule.Destination, "error", err)
			errs = append(errs, err)
			continue
		}
		posted++
	}
	return posted, errors.Join(errs...)
}
