// Package model defines the domain types used across the application.
package model

import "time"

// Channel is a public channel as listed at the start of a run.
type Channel struct {
	ID      string
	Name    string
	Created time.Time
	Creator string
	Purpose string
	Members []string
}

// Age returns how long ago the channel was created, relative to now.
func (c Channel) Age(now time.Time) time.Duration {
	return now.Sub(c.Created)
}

// User is a workspace member.
type User struct {
	ID                string
	Name              string
	IsRestricted      bool
	IsUltraRestricted bool
}

// Restricted reports whether the user is a single- or multi-channel guest.
func (u User) Restricted() bool {
	return u.IsRestricted || u.IsUltraRestricted
}

// Attachment is the part of a message attachment the bot cares about.
type Attachment struct {
	Fallback string
	Text     string
}

// Reaction is an emoji reaction count on a message.
type Reaction struct {
	Name  string
	Count int
}

// Message is a single channel message.
type Message struct {
	ChannelID   string
	User        string
	Username    string
	Timestamp   string
	Text        string
	SubType     string
	Attachments []Attachment
	Reactions   []Reaction
}

// HasAttachments reports whether the message carries any attachment.
func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// HasFallback reports whether any attachment carries the given fallback marker.
func (m Message) HasFallback(marker string) bool {
	for _, a := range m.Attachments {
		if a.Fallback == marker {
			return true
		}
	}
	return false
}

// Comparator is a threshold comparison operator used by flag rules.
type Comparator string

// Supported comparators.
const (
	CmpGreater      Comparator = ">"
	CmpLess         Comparator = "<"
	CmpEqual        Comparator = "=="
	CmpGreaterEqual Comparator = ">="
	CmpLessEqual    Comparator = "<="
)

// Compare applies the comparator to count and threshold.
func (c Comparator) Compare(count, threshold int) bool {
	switch c {
	case CmpGreater:
		return count > threshold
	case CmpLess:
		return count < threshold
	case CmpEqual:
		return count == threshold
	case CmpGreaterEqual:
		return count >= threshold
	case CmpLessEqual:
		return count <= threshold
	}
	return false
}

// Valid reports whether c is one of the supported comparators.
func (c Comparator) Valid() bool {
	switch c {
	case CmpGreater, CmpLess, CmpEqual, CmpGreaterEqual, CmpLessEqual:
		return true
	}
	return false
}

// FlagRule routes messages whose reaction count for Emoji satisfies
// Comparator/Threshold to the Destination channel.
type FlagRule struct {
	ID          string
	Threshold   int
	Comparator  Comparator
	Emoji       string
	Destination string
}

// ActionKind identifies what the bot did (or would have done in dry-run).
type ActionKind string

// Recorded action kinds.
const (
	ActionWarn     ActionKind = "warn"
	ActionArchive  ActionKind = "archive"
	ActionNotify   ActionKind = "notify"
	ActionAnnounce ActionKind = "announce"
	ActionFlag     ActionKind = "flag"
	ActionStats    ActionKind = "stats"
)

// Action is a journal entry describing one side effect of a run.
type Action struct {
	ID        int64
	Kind      ActionKind
	Channel   string
	Detail    string
	DryRun    bool
	Failed    bool
	CreatedAt time.Time
}
