// Package directory holds the per-run view of a workspace's channels and
// users and resolves mentions against it.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"

	"destalinator/internal/model"
)

// Lister is the subset of the Slack client used to build a Directory.
type Lister interface {
	Channels(ctx context.Context, excludeArchived bool) ([]model.Channel, error)
	Users(ctx context.Context) ([]model.User, error)
	Members(ctx context.Context, channelID string) ([]string, error)
}

// Directory maps channel and user ids to names for the duration of one run.
type Directory struct {
	api Lister
	log *slog.Logger

	channels []model.Channel
	byID     map[string]model.Channel
	byName   map[string]model.Channel

	users      map[string]model.User
	restricted map[string]bool

	mu      sync.Mutex
	members map[string][]string
}

// Load lists non-archived channels and all users.
func Load(ctx context.Context, api Lister, log *slog.Logger) (*Directory, error) {
	channels, err := api.Channels(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	users, err := api.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	d := New(api, channels, users, log)
	log.Debug("directory loaded", "channels", len(d.channels), "users", len(d.users), "restricted", len(d.restricted))
	return d, nil
}

// New builds a Directory from already-fetched listings.
func New(api Lister, channels []model.Channel, users []model.User, log *slog.Logger) *Directory {
	d := &Directory{
		api:        api,
		log:        log,
		channels:   slices.Clone(channels),
		byID:       make(map[string]model.Channel, len(channels)),
		byName:     make(map[string]model.Channel, len(channels)),
		users:      make(map[string]model.User, len(users)),
		restricted: make(map[string]bool),
		members:    make(map[string][]string),
	}
	slices.SortFunc(d.channels, func(a, b model.Channel) int {
		return strings.Compare(a.ID, b.ID)
	})
	for _, ch := range d.channels {
		d.byID[ch.ID] = ch
		d.byName[ch.Name] = ch
	}
	for _, u := range users {
		d.users[u.ID] = u
		if u.Restricted() {
			d.restricted[u.ID] = true
		}
	}
	return d
}

// Channels returns all channels sorted by id.
func (d *Directory) Channels() []model.Channel {
	return slices.Clone(d.channels)
}

// Names returns all channel names in sorted order.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.byName))
	for name := range d.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ChannelByName looks up a channel by name. A leading '#' is ignored.
func (d *Directory) ChannelByName(name string) (model.Channel, bool) {
	ch, ok := d.byName[strings.TrimPrefix(name, "#")]
	return ch, ok
}

// ChannelExists reports whether a channel with this name is known.
func (d *Directory) ChannelExists(name string) bool {
	_, ok := d.ChannelByName(name)
	return ok
}

// ChannelIDFor returns the id of the named channel.
func (d *Directory) ChannelIDFor(name string) (string, bool) {
	ch, ok := d.ChannelByName(name)
	return ch.ID, ok
}

// ChannelName returns the name of the channel with the given id.
func (d *Directory) ChannelName(id string) (string, bool) {
	ch, ok := d.byID[id]
	return ch.Name, ok
}

// UserName returns the current username for a user id.
func (d *Directory) UserName(id string) (string, bool) {
	u, ok := d.users[id]
	return u.Name, ok
}

// RestrictedUsers returns the ids of single- and multi-channel guests, sorted.
func (d *Directory) RestrictedUsers() []string {
	ids := make([]string, 0, len(d.restricted))
	for id := range d.restricted {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ResolveChannelMention turns a channel id into "#name". Names and unknown
// ids come back unchanged, with a single leading '#'.
func (d *Directory) ResolveChannelMention(idOrName string) string {
	s := strings.TrimPrefix(idOrName, "#")
	if name, ok := d.ChannelName(s); ok {
		return "#" + name
	}
	return "#" + s
}

// ResolveUserMention turns a user id into "@name". An embedded "|name" is
// ignored in favour of the current username.
func (d *Directory) ResolveUserMention(id string) string {
	s := strings.TrimPrefix(id, "@")
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	if name, ok := d.UserName(s); ok && name != "" {
		return "@" + name
	}
	return "@" + s
}

var tokenRe = regexp.MustCompile(`<[^<>]*>`)

// Detokenize replaces <#C...> and <@U...> tokens with readable names.
// Tokens that cannot be resolved are left as they are.
func (d *Directory) Detokenize(text string) string {
	return tokenRe.ReplaceAllStringFunc(text, func(tok string) string {
		if len(tok) <= 3 {
			return tok
		}
		inner := tok[1 : len(tok)-1]
		switch inner[0] {
		case '#':
			id := inner[1:]
			if i := strings.IndexByte(id, '|'); i >= 0 {
				id = id[:i]
			}
			if name, ok := d.ChannelName(id); ok {
				return "#" + name
			}
		case '@':
			id := inner[1:]
			if i := strings.IndexByte(id, '|'); i >= 0 {
				id = id[:i]
			}
			if name, ok := d.UserName(id); ok && name != "" {
				return "@" + name
			}
		}
		return tok
	})
}

// ChannelMarkup returns a clickable reference for a channel name, or
// "#name" when the channel is unknown.
func (d *Directory) ChannelMarkup(name string) string {
	name = strings.TrimPrefix(name, "#")
	if id, ok := d.ChannelIDFor(name); ok {
		return "<#" + id + "|" + name + ">"
	}
	return "#" + name
}

var channelRefRe = regexp.MustCompile(`#([a-z0-9_-]+)`)

// ApplyChannelMarkup rewrites every #name in text with ChannelMarkup.
func (d *Directory) ApplyChannelMarkup(text string) string {
	return channelRefRe.ReplaceAllStringFunc(text, func(ref string) string {
		return d.ChannelMarkup(ref[1:])
	})
}

// Members returns the member ids of a channel. Results are cached for the
// lifetime of the directory.
func (d *Directory) Members(ctx context.Context, channelID string) ([]string, error) {
	d.mu.Lock()
	cached, ok := d.members[channelID]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	ids, err := d.api.Members(ctx, channelID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.members[channelID] = ids
	d.mu.Unlock()
	return ids, nil
}

// MemberNames returns "@name" for every member of a channel, sorted.
func (d *Directory) MemberNames(ctx context.Context, channelID string) ([]string, error) {
	ids, err := d.Members(ctx, channelID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, d.ResolveUserMention(id))
	}
	slices.Sort(names)
	return names, nil
}

// HasRestrictedMembers reports whether any member of the channel is a guest.
func (d *Directory) HasRestrictedMembers(ctx context.Context, channelID string) (bool, error) {
	ids, err := d.Members(ctx, channelID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if d.restricted[id] {
			d.log.Debug("channel has restricted members", "channel", channelID, "user", id)
			return true, nil
		}
	}
	return false, nil
}
