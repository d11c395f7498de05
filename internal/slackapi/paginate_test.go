package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"destalinator/internal/model"
)

// pagedHandler serves one canned body per call, keyed by the cursor param.
func pagedHandler(t *testing.T, pages map[string]string) (http.Handler, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var cursors []string
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		mu.Lock()
		cursors = append(cursors, cursor)
		mu.Unlock()
		body, ok := pages[cursor]
		if !ok {
			t.Errorf("unexpected cursor %q", cursor)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, body)
	}), &cursors
}

func TestListConcatenatesPages(t *testing.T) {
	h, cursors := pagedHandler(t, map[string]string{
		"":   `{"ok":true,"channels":[{"id":"C3","name":"c"},{"id":"C1","name":"a"}],"response_metadata":{"next_cursor":"p2"}}`,
		"p2": `{"ok":true,"channels":[{"id":"C2","name":"b"}],"response_metadata":{"next_cursor":"p3"}}`,
		"p3": `{"ok":true,"channels":[{"id":"C4","name":"d"}],"response_metadata":{"next_cursor":""}}`,
	})
	c, _ := newTestClient(t, h)

	var ids []string
	for raw, err := range c.List(context.Background(), "conversations.list", nil, 0) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var ch struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &ch); err != nil {
			t.Fatalf("decode: %v", err)
		}
		ids = append(ids, ch.ID)
	}

	if diff := cmp.Diff([]string{"C3", "C1", "C2", "C4"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"", "p2", "p3"}, *cursors); diff != "" {
		t.Errorf("cursors mismatch (-want +got):\n%s", diff)
	}
}

func TestListStopsEarly(t *testing.T) {
	h, cursors := pagedHandler(t, map[string]string{
		"": `{"ok":true,"members":["U1","U2"],"response_metadata":{"next_cursor":"p2"}}`,
	})
	c, _ := newTestClient(t, h)

	for raw, err := range c.List(context.Background(), "users.list", nil, 0) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_ = raw
		break
	}
	if diff := cmp.Diff(1, len(*cursors)); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestListFieldDiscovery(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "single list", body: `{"ok":true,"members":["U1"],"cache_ts":1}`, want: 1},
		{name: "no list", body: `{"ok":true,"cache_ts":1}`, wantErr: true},
		{name: "two lists", body: `{"ok":true,"members":["U1"],"channels":[]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))

			got, err := collect[json.RawMessage](c.List(context.Background(), "users.list", nil, 0))
			if tt.wantErr {
				if !errors.Is(err, ErrListField) {
					t.Fatalf("expected ErrListField, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, len(got)); diff != "" {
				t.Errorf("count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListSendsLimit(t *testing.T) {
	var limit string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit = r.URL.Query().Get("limit")
		_, _ = io.WriteString(w, `{"ok":true,"members":[]}`)
	}))
	if _, err := collect[string](c.List(context.Background(), "users.list", nil, 50)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("50", limit); diff != "" {
		t.Errorf("limit mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelsSortedByID(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h, _ := pagedHandler(t, map[string]string{
		"": `{"ok":true,"channels":[
			{"id":"C9","name":"zeta","created":1704164645,"creator":"U1","purpose":{"value":"z"}},
			{"id":"C2","name":"alpha","created":1704164645,"creator":"U2","purpose":{"value":"a"}}
		]}`,
	})
	c, _ := newTestClient(t, h)

	got, err := c.Channels(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []model.Channel{
		{ID: "C2", Name: "alpha", Created: created, Creator: "U2", Purpose: "a"},
		{ID: "C9", Name: "zeta", Created: created, Creator: "U1", Purpose: "z"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
}

func TestUsersAndMembers(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "users.list"):
			_, _ = io.WriteString(w, `{"ok":true,"members":[
				{"id":"U1","name":"lenin"},
				{"id":"U2","name":"guest","is_restricted":true},
				{"id":"U3","name":"single","is_ultra_restricted":true}
			]}`)
		case strings.HasSuffix(r.URL.Path, "conversations.members"):
			if r.URL.Query().Get("channel") != "C1" {
				t.Errorf("unexpected channel %q", r.URL.Query().Get("channel"))
			}
			_, _ = io.WriteString(w, `{"ok":true,"members":["U1","U3"]}`)
		}
	}))

	users, err := c.Users(context.Background())
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	wantUsers := []model.User{
		{ID: "U1", Name: "lenin"},
		{ID: "U2", Name: "guest", IsRestricted: true},
		{ID: "U3", Name: "single", IsUltraRestricted: true},
	}
	if diff := cmp.Diff(wantUsers, users); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}

	members, err := c.Members(context.Background(), "C1")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if diff := cmp.Diff([]string{"U1", "U3"}, members); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryShrinksWindow(t *testing.T) {
	var mu sync.Mutex
	var latests []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		latests = append(latests, q.Get("latest"))
		mu.Unlock()
		if q.Get("oldest") != "100" {
			t.Errorf("unexpected oldest %q", q.Get("oldest"))
		}
		switch q.Get("latest") {
		case "1000":
			_, _ = io.WriteString(w, `{"ok":true,"has_more":true,"messages":[
				{"type":"message","user":"U1","text":"late","ts":"900.000200"},
				{"type":"message","user":"U1","text":"mid","ts":"500.000100"}
			]}`)
		case "500.000100":
			_, _ = io.WriteString(w, `{"ok":true,"has_more":false,"messages":[
				{"type":"message","user":"U2","text":"early","ts":"200.000001",
				 "attachments":[{"fallback":"channel_warning"}],
				 "reactions":[{"name":"eyes","count":4,"users":["U1"]}]}
			]}`)
		default:
			t.Errorf("unexpected latest %q", q.Get("latest"))
		}
	}))

	got, err := c.History(context.Background(), "C1", time.Unix(100, 0), time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.Message{
		{
			ChannelID: "C1", User: "U2", Text: "early", Timestamp: "200.000001",
			Attachments: []model.Attachment{{Fallback: "channel_warning"}},
			Reactions:   []model.Reaction{{Name: "eyes", Count: 4}},
		},
		{ChannelID: "C1", User: "U1", Text: "mid", Timestamp: "500.000100"},
		{ChannelID: "C1", User: "U1", Text: "late", Timestamp: "900.000200"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1000", "500.000100"}, latests); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryStopsOnEmptyPage(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"ok":true,"has_more":true,"messages":[]}`)
	}))
	got, err := c.History(context.Background(), "C1", time.Unix(0, 0), time.Unix(10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 || calls != 1 {
		t.Errorf("expected one empty call, got %d messages over %d calls", len(got), calls)
	}
}
