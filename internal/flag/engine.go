package flag

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"destalinator/internal/model"
)

// RuleSet is the active rule table, keyed by rule id and kept in the order
// rules were first defined.
type RuleSet struct {
	order []string
	rules map[string]model.FlagRule
}

// NewRuleSet returns an empty rule table.
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[string]model.FlagRule)}
}

// Apply executes a parsed command. Deleting an unknown id is a no-op and
// reports false.
func (s *RuleSet) Apply(c Command) bool {
	switch c.Op {
	case OpDelete:
		if _, ok := s.rules[c.Rule.ID]; !ok {
			return false
		}
		delete(s.rules, c.Rule.ID)
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == c.Rule.ID })
		return true
	case OpAdd:
		if _, ok := s.rules[c.Rule.ID]; !ok {
			s.order = append(s.order, c.Rule.ID)
		}
		s.rules[c.Rule.ID] = c.Rule
		return true
	}
	return false
}

// Replay builds the rule table from control channel messages, oldest first.
// Malformed lines are logged and skipped.
func Replay(messages []model.Message, r Resolver, log *slog.Logger) *RuleSet {
	s := NewRuleSet()
	for _, m := range messages {
		cmd, err := ParseCommand(m.Text, r)
		if errors.Is(err, ErrNotRule) {
			continue
		}
		if err != nil {
			log.Warn("skipping control message", "ts", m.Timestamp, "error", err)
			continue
		}
		if !s.Apply(cmd) && cmd.Op == OpDelete {
			log.Debug("delete of unknown rule", "rule", cmd.Rule.ID)
		}
	}
	return s
}

// Len returns the number of active rules.
func (s *RuleSet) Len() int {
	return len(s.order)
}

// Get returns the rule with the given id.
func (s *RuleSet) Get(id string) (model.FlagRule, bool) {
	r, ok := s.rules[id]
	return r, ok
}

// Rules returns the active rules in definition order.
func (s *RuleSet) Rules() []model.FlagRule {
	out := make([]model.FlagRule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id])
	}
	return out
}

// Emoji returns the set of emoji names referenced by active rules.
func (s *RuleSet) Emoji() map[string]bool {
	set := make(map[string]bool, len(s.rules))
	for _, r := range s.rules {
		set[r.Emoji] = true
	}
	return set
}

// Match returns the rules whose threshold the message's reactions satisfy.
// Counts on aliased emoji are summed before comparing.
func (s *RuleSet) Match(m model.Message, eq Equivalence) []model.FlagRule {
	if len(m.Reactions) == 0 || len(s.rules) == 0 {
		return nil
	}
	wanted := s.Emoji()

	totals := make(map[string]int)
	for _, reaction := range m.Reactions {
		class := eq.Class(reaction.Name)
		if !slices.ContainsFunc(class, func(e string) bool { return wanted[e] }) {
			continue
		}
		for _, e := range class {
			totals[e] += reaction.Count
		}
	}

	var matched []model.FlagRule
	for _, rule := range s.Rules() {
		count, ok := totals[rule.Emoji]
		if ok && rule.Comparator.Compare(count, rule.Threshold) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Destinations returns the distinct destinations of the rules a message
// matches, in rule order.
func (s *RuleSet) Destinations(m model.Message, eq Equivalence) []string {
	var out []string
	for _, rule := range s.Match(m, eq) {
		if !slices.Contains(out, rule.Destination) {
			out = append(out, rule.Destination)
		}
	}
	return out
}

// Equivalence maps an emoji name to its direct aliases.
type Equivalence map[string][]string

// NewEquivalence builds symmetric one-hop aliases from a custom emoji table,
// where alias entries have values of the form "alias:<target>".
func NewEquivalence(table map[string]string) Equivalence {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	slices.Sort(names)

	eq := make(Equivalence)
	for _, name := range names {
		target, ok := strings.CutPrefix(table[name], "alias:")
		if !ok || target == "" || target == name {
			continue
		}
		eq[name] = appendUnique(eq[name], target)
		eq[target] = appendUnique(eq[target], name)
	}
	return eq
}

// Class returns the emoji's aliases followed by the emoji itself.
func (eq Equivalence) Class(name string) []string {
	class := slices.Clone(eq[name])
	return append(class, name)
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}
