// Package flag implements the reaction-threshold rules that route popular
// messages to other channels. Rules are read from a control channel.
package flag

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"destalinator/internal/model"
)

// Prefix starts every control message.
var Prefix = []string{"flag", "content", "rule"}

// ErrNotRule is returned for control channel messages that are not rules.
var ErrNotRule = errors.New("not a flag rule")

// ParseError describes a malformed rule line.
type ParseError struct {
	Text   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed rule %q: %s: %v", e.Text, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed rule %q: %s", e.Text, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Resolver turns mention ids into display names.
type Resolver interface {
	ResolveChannelMention(idOrName string) string
	ResolveUserMention(id string) string
}

// Op is what a control message asks for.
type Op int

// Control operations.
const (
	OpAdd Op = iota
	OpDelete
)

// Command is a parsed control message. For OpDelete only Rule.ID is set.
type Command struct {
	Op   Op
	Rule model.FlagRule
}

// ParseCommand parses
//
//	flag content rule <id> <threshold> <emoji> <destination>
//	flag content rule <id> delete
func ParseCommand(text string, r Resolver) (Command, error) {
	tokens := strings.Fields(text)
	if len(tokens) < len(Prefix) {
		return Command{}, ErrNotRule
	}
	for i, p := range Prefix {
		if tokens[i] != p {
			return Command{}, ErrNotRule
		}
	}

	if len(tokens) < 5 {
		return Command{}, &ParseError{Text: text, Reason: "too few tokens"}
	}
	id := tokens[3]
	if len(tokens) == 5 && tokens[4] == "delete" {
		return Command{Op: OpDelete, Rule: model.FlagRule{ID: id}}, nil
	}
	if len(tokens) < 7 {
		return Command{}, &ParseError{Text: text, Reason: "expected <id> <threshold> <emoji> <destination>"}
	}

	cmp, threshold, err := ParseThreshold(tokens[4])
	if err != nil {
		return Command{}, &ParseError{Text: text, Reason: "bad threshold", Err: err}
	}
	emoji := strings.Trim(tokens[5], ":")
	if emoji == "" {
		return Command{}, &ParseError{Text: text, Reason: "empty emoji"}
	}
	dest := resolveDestination(tokens[6], r)
	if dest == "" {
		return Command{}, &ParseError{Text: text, Reason: "empty destination"}
	}

	return Command{
		Op: OpAdd,
		Rule: model.FlagRule{
			ID:          id,
			Threshold:   threshold,
			Comparator:  cmp,
			Emoji:       emoji,
			Destination: dest,
		},
	}, nil
}

var thresholdRe = regexp.MustCompile(`^(.*?)(\d+)$`)

// ParseThreshold splits a token such as ">=3", "&gt;3" or "5" into its
// comparator and value. The comparator defaults to >=.
func ParseThreshold(token string) (model.Comparator, int, error) {
	m := thresholdRe.FindStringSubmatch(token)
	if m == nil {
		return "", 0, fmt.Errorf("threshold %q has no trailing integer", token)
	}
	value, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("threshold %q: %w", token, err)
	}
	cmp := model.Comparator(html.UnescapeString(m[1]))
	if cmp == "" {
		cmp = model.CmpGreaterEqual
	}
	if !cmp.Valid() {
		return "", 0, fmt.Errorf("unknown comparator %q", cmp)
	}
	return cmp, value, nil
}

// resolveDestination strips Slack's <...> wrapping and any "|label", then
// resolves ids. Channels come back without '#', users as "@name".
func resolveDestination(token string, r Resolver) string {
	dest := strings.NewReplacer("<", "", ">", "").Replace(token)
	if i := strings.IndexByte(dest, '|'); i >= 0 {
		dest = dest[:i]
	}
	switch {
	case strings.HasPrefix(dest, "#"):
		return strings.TrimPrefix(r.ResolveChannelMention(dest), "#")
	case strings.HasPrefix(dest, "@"):
		return r.ResolveUserMention(dest)
	}
	return dest
}
