package slackapi

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"destalinator/internal/model"
)

// ErrListField is returned when a page does not have exactly one
// list-valued top-level field.
var ErrListField = errors.New("expected exactly one list field")

// List walks a cursor-paginated method and yields the elements of the
// page's single list-valued field. Each call starts from the first page.
func (c *Client) List(ctx context.Context, method string, params url.Values, pageSize int) iter.Seq2[json.RawMessage, error] {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return func(yield func(json.RawMessage, error) bool) {
		cursor := ""
		for {
			q := cloneValues(params)
			q.Set("limit", strconv.Itoa(pageSize))
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			payload, err := c.Call(ctx, method, q)
			if err != nil {
				yield(nil, err)
				return
			}
			items, err := listField(method, payload)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}

			cursor = nextCursor(payload)
			if cursor == "" {
				return
			}
		}
	}
}

func listField(method string, payload map[string]json.RawMessage) ([]json.RawMessage, error) {
	var found []string
	for key, raw := range payload {
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			found = append(found, key)
		}
	}
	if len(found) != 1 {
		sort.Strings(found)
		return nil, fmt.Errorf("%s: %w, got %d %v", method, ErrListField, len(found), found)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(payload[found[0]], &items); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", method, found[0], err)
	}
	return items, nil
}

func nextCursor(payload map[string]json.RawMessage) string {
	raw, ok := payload["response_metadata"]
	if !ok {
		return ""
	}
	var meta struct {
		NextCursor string `json:"next_cursor"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	return meta.NextCursor
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = slices.Clone(vals)
	}
	return out
}

func collect[T any](seq iter.Seq2[json.RawMessage, error]) ([]T, error) {
	var out []T
	for raw, err := range seq {
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Channels lists public channels, sorted by ID.
func (c *Client) Channels(ctx context.Context, excludeArchived bool) ([]model.Channel, error) {
	params := url.Values{}
	params.Set("types", "public_channel")
	params.Set("exclude_archived", strconv.FormatBool(excludeArchived))

	raw, err := collect[slack.Channel](c.List(ctx, "conversations.list", params, 0))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	channels := make([]model.Channel, 0, len(raw))
	for _, ch := range raw {
		channels = append(channels, toChannel(ch))
	}
	slices.SortFunc(channels, func(a, b model.Channel) int {
		return strings.Compare(a.ID, b.ID)
	})
	return channels, nil
}

// Users lists all workspace members.
func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	raw, err := collect[slack.User](c.List(ctx, "users.list", nil, 0))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]model.User, 0, len(raw))
	for _, u := range raw {
		users = append(users, model.User{
			ID:                u.ID,
			Name:              u.Name,
			IsRestricted:      u.IsRestricted,
			IsUltraRestricted: u.IsUltraRestricted,
		})
	}
	return users, nil
}

// Members lists the member IDs of a channel.
func (c *Client) Members(ctx context.Context, channelID string) ([]string, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	ids, err := collect[string](c.List(ctx, "conversations.members", params, 0))
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", channelID, err)
	}
	return ids, nil
}

type historyPage struct {
	Messages []slack.Message
	HasMore  bool
}

// History returns a channel's messages between oldest and latest, sorted
// ascending by timestamp. While the server reports more data, the window's
// upper bound moves down to the earliest timestamp seen so far.
func (c *Client) History(ctx context.Context, channelID string, oldest, latest time.Time) ([]model.Message, error) {
	oldestTS := strconv.FormatInt(oldest.Unix(), 10)
	latestTS := strconv.FormatInt(latest.Unix(), 10)

	var messages []model.Message
	for {
		params := url.Values{}
		params.Set("channel", channelID)
		params.Set("oldest", oldestTS)
		params.Set("latest", latestTS)
		params.Set("limit", strconv.Itoa(c.pageSize))

		payload, err := c.Call(ctx, "conversations.history", params)
		if err != nil {
			return nil, fmt.Errorf("history of %s: %w", channelID, err)
		}
		page, err := decodeHistory(payload)
		if err != nil {
			return nil, fmt.Errorf("history of %s: %w", channelID, err)
		}

		for _, m := range page.Messages {
			messages = append(messages, toMessage(channelID, m))
		}
		if !page.HasMore || len(page.Messages) == 0 {
			break
		}

		earliest := earliestTS(messages)
		if earliest == latestTS {
			break
		}
		latestTS = earliest
	}

	slices.SortStableFunc(messages, func(a, b model.Message) int {
		return cmp.Compare(parseTS(a.Timestamp), parseTS(b.Timestamp))
	})
	return messages, nil
}

func decodeHistory(payload map[string]json.RawMessage) (historyPage, error) {
	var page historyPage
	if raw, ok := payload["messages"]; ok {
		if err := json.Unmarshal(raw, &page.Messages); err != nil {
			return page, fmt.Errorf("decode messages: %w", err)
		}
	}
	if raw, ok := payload["has_more"]; ok {
		if err := json.Unmarshal(raw, &page.HasMore); err != nil {
			return page, fmt.Errorf("decode has_more: %w", err)
		}
	}
	return page, nil
}

func earliestTS(messages []model.Message) string {
	earliest := ""
	lowest := 0.0
	for _, m := range messages {
		ts := parseTS(m.Timestamp)
		if earliest == "" || ts < lowest {
			earliest, lowest = m.Timestamp, ts
		}
	}
	return earliest
}

func parseTS(ts string) float64 {
	f, _ := strconv.ParseFloat(ts, 64)
	return f
}

func toChannel(ch slack.Channel) model.Channel {
	return model.Channel{
		ID:      ch.ID,
		Name:    ch.Name,
		Created: ch.Created.Time(),
		Creator: ch.Creator,
		Purpose: ch.Purpose.Value,
		Members: ch.Members,
	}
}

func toMessage(channelID string, m slack.Message) model.Message {
	msg := model.Message{
		ChannelID: channelID,
		User:      m.User,
		Username:  m.Username,
		Timestamp: m.Timestamp,
		Text:      m.Text,
		SubType:   m.SubType,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{Fallback: a.Fallback, Text: a.Text})
	}
	for _, r := range m.Reactions {
		msg.Reactions = append(msg.Reactions, model.Reaction{Name: r.Name, Count: r.Count})
	}
	return msg
}
