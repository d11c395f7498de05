package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"destalinator/internal/config"
	"destalinator/internal/directory"
	"destalinator/internal/hygiene"
	"destalinator/internal/storage"
	"destalinator/templates"
)

// SlackAPI is the Slack surface the standard jobs need.
type SlackAPI interface {
	directory.Lister
	hygiene.API
}

// Deps are shared by every job.
type Deps struct {
	Config  *config.Config
	API     SlackAPI
	Journal storage.Journal
	Texts   templates.Texts
	Now     func() time.Time
	Log     *slog.Logger
}

// Env loads a fresh directory and builds the per-run environment.
func (d Deps) Env(ctx context.Context) (*hygiene.Env, error) {
	dir, err := directory.Load(ctx, d.API, d.Log)
	if err != nil {
		return nil, err
	}
	return d.envFor(dir)
}

func (d Deps) envFor(dir *directory.Directory) (*hygiene.Env, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	env, err := hygiene.NewEnv(d.Config, d.API, dir, d.Journal, now(), d.Log)
	if err != nil {
		return nil, fmt.Errorf("build environment: %w", err)
	}
	return env, nil
}

// Batch is the daily sequence of jobs. Its jobs share one directory per
// run; the message cache and clock are rebuilt for every job.
type Batch struct {
	deps Deps

	mu  sync.Mutex
	dir *directory.Directory
}

// NewBatch creates a Batch. Refresh must run before each batch, see
// Scheduler.SetPrepare.
func NewBatch(d Deps) *Batch {
	return &Batch{deps: d}
}

// Refresh loads the directory used by the jobs of the next run.
func (b *Batch) Refresh(ctx context.Context) error {
	dir, err := directory.Load(ctx, b.deps.API, b.deps.Log)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.dir = dir
	b.mu.Unlock()
	return nil
}

func (b *Batch) env(ctx context.Context) (*hygiene.Env, error) {
	b.mu.Lock()
	dir := b.dir
	b.mu.Unlock()
	if dir == nil {
		if err := b.Refresh(ctx); err != nil {
			return nil, err
		}
		return b.env(ctx)
	}
	return b.deps.envFor(dir)
}

func (b *Batch) job(name string, run func(ctx context.Context, env *hygiene.Env) error) Job {
	return Job{
		Name: name,
		Run: func(ctx context.Context) error {
			env, err := b.env(ctx)
			if err != nil {
				return err
			}
			return run(ctx, env)
		},
	}
}

// Jobs returns warn, archive, announce, flag and stats, in that order.
func (b *Batch) Jobs() []Job {
	d := b.deps
	return []Job{
		b.job("warn", func(ctx context.Context, env *hygiene.Env) error {
			_, err := hygiene.NewWarden(env, d.Texts).WarnAll(ctx, d.Config.WarnThreshold, false)
			return err
		}),
		b.job("archive", func(ctx context.Context, env *hygiene.Env) error {
			_, err := hygiene.NewWarden(env, d.Texts).SafeArchiveAll(ctx, d.Config.ArchiveThreshold)
			return err
		}),
		b.job("announce", func(ctx context.Context, env *hygiene.Env) error {
			_, err := hygiene.NewAnnouncer(env).Announce(ctx)
			return err
		}),
		b.job("flag", func(ctx context.Context, env *hygiene.Env) error {
			_, err := hygiene.NewFlagger(env).Flag(ctx)
			return err
		}),
		b.job("stats", func(ctx context.Context, env *hygiene.Env) error {
			return hygiene.NewStats(env).Post(ctx)
		}),
	}
}

// NewDaily wires a Batch into a Scheduler that refreshes the directory at
// the start of every run.
func NewDaily(d Deps, hour int, failFast bool) *Scheduler {
	b := NewBatch(d)
	s := New(b.Jobs(), hour, failFast, d.Log)
	s.SetPrepare(b.Refresh)
	return s
}
