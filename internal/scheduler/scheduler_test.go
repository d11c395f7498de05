package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"destalinator/internal/config"
	"destalinator/internal/model"
	"destalinator/templates"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu   sync.Mutex
	runs []string
}

func (r *recorder) job(name string, err error) Job {
	return Job{Name: name, Run: func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.runs = append(r.runs, name)
		return err
	}}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func TestRunOnce(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		failFast bool
		wantRuns []string
		wantErr  bool
	}{
		{name: "continue on error", failFast: false, wantRuns: []string{"warn", "archive", "announce"}},
		{name: "fail fast", failFast: true, wantRuns: []string{"warn", "archive"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			jobs := []Job{r.job("warn", nil), r.job("archive", boom), r.job("announce", nil)}
			s := New(jobs, 4, tt.failFast, discardLogger())

			err := s.RunOnce(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunOnce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, boom) {
				t.Errorf("RunOnce() error = %v, want it to wrap %v", err, boom)
			}
			if diff := cmp.Diff(tt.wantRuns, r.get()); diff != "" {
				t.Errorf("runs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunOnceCancelled(t *testing.T) {
	r := &recorder{}
	s := New([]Job{r.job("warn", nil)}, 4, false, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunOnce() error = %v, want context.Canceled", err)
	}
	if got := r.get(); len(got) != 0 {
		t.Errorf("runs = %v, want none", got)
	}
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC),
			want: time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at the hour",
			now:  time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC),
		},
		{
			name: "tomorrow",
			now:  time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 1, 4, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.now, 4); !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := &recorder{}
	s := New([]Job{r.job("warn", nil)}, 4, false, discardLogger())
	s.SetClock(func() time.Time { return time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	if got := r.get(); len(got) != 0 {
		t.Errorf("runs = %v, want none before the scheduled hour", got)
	}
}

func TestRunFiresAtHour(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := Job{Name: "warn", Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}
	s := New([]Job{job}, 4, false, discardLogger())
	s.SetClock(func() time.Time { return time.Date(2024, 3, 1, 3, 59, 59, 990_000_000, time.UTC) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not run at the scheduled hour")
	}
}

type mockSlack struct {
	mu            sync.Mutex
	channels      []model.Channel
	users         []model.User
	channelsCalls int
	posts         []string
	archived      []string
}

func (m *mockSlack) Channels(context.Context, bool) ([]model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelsCalls++
	return m.channels, nil
}

func (m *mockSlack) Users(context.Context) ([]model.User, error) { return m.users, nil }

func (m *mockSlack) Members(context.Context, string) ([]string, error) {
	return []string{"U1"}, nil
}

func (m *mockSlack) History(context.Context, string, time.Time, time.Time) ([]model.Message, error) {
	return nil, nil
}

func (m *mockSlack) Emoji(context.Context) (map[string]string, error) { return nil, nil }

func (m *mockSlack) PostMessage(_ context.Context, channelID, _, messageType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, channelID+":"+messageType)
	return nil
}

func (m *mockSlack) Archive(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived = append(m.archived, channelID)
	return nil
}

func TestJobs(t *testing.T) {
	now := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	api := &mockSlack{
		channels: []model.Channel{{ID: "C1", Name: "old", Created: now.AddDate(-1, 0, 0)}},
		users:    []model.User{{ID: "U1", Name: "lenin"}},
	}
	cfg := &config.Config{
		Activated:           true,
		WarnThreshold:       30,
		ArchiveThreshold:    60,
		EarliestArchiveDate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	deps := Deps{
		Config: cfg,
		API:    api,
		Texts:  templates.Default(),
		Now:    func() time.Time { return now },
		Log:    discardLogger(),
	}

	jobs := NewBatch(deps).Jobs()
	var names []string
	for _, j := range jobs {
		names = append(names, j.Name)
	}
	if diff := cmp.Diff([]string{"warn", "archive", "announce", "flag", "stats"}, names); diff != "" {
		t.Errorf("job order mismatch (-want +got):\n%s", diff)
	}

	s := NewDaily(deps, 4, true)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	wantPosts := []string{"C1:channel_warning", "C1:channel_archive", "C1:channel_archive_members"}
	if diff := cmp.Diff(wantPosts, api.posts); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"C1"}, api.archived); diff != "" {
		t.Errorf("archived mismatch (-want +got):\n%s", diff)
	}
	if api.channelsCalls != 1 {
		t.Errorf("directory loaded %d times in one run, want 1", api.channelsCalls)
	}

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if api.channelsCalls != 2 {
		t.Errorf("directory loaded %d times in two runs, want 2", api.channelsCalls)
	}
}

func TestRunOncePrepare(t *testing.T) {
	boom := errors.New("list channels")
	tests := []struct {
		name     string
		err      error
		wantRuns []string
	}{
		{name: "prepared", wantRuns: []string{"warn", "archive"}},
		{name: "prepare failed", err: boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			s := New([]Job{r.job("warn", nil), r.job("archive", nil)}, 4, false, discardLogger())
			prepared := 0
			s.SetPrepare(func(context.Context) error {
				prepared++
				return tt.err
			})

			err := s.RunOnce(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("RunOnce() error = %v, want %v", err, tt.err)
			}
			if prepared != 1 {
				t.Errorf("prepare ran %d times, want 1", prepared)
			}
			if diff := cmp.Diff(tt.wantRuns, r.get()); diff != "" {
				t.Errorf("runs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
