package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Job is one step of the daily batch.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs a fixed sequence of jobs, once on demand or daily at a
// configured hour.
type Scheduler struct {
	jobs     []Job
	hour     int
	failFast bool
	log      *slog.Logger
	now      func() time.Time
	prepare  func(ctx context.Context) error
}

// New creates a Scheduler that runs jobs in order every day at hour, local
// time. With failFast the batch stops at the first failing job.
func New(jobs []Job, hour int, failFast bool, log *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		hour:     hour,
		failFast: failFast,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the clock used to compute the next run.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetPrepare sets a step that runs before the jobs of every batch. If it
// fails no job runs.
func (s *Scheduler) SetPrepare(prepare func(ctx context.Context) error) {
	s.prepare = prepare
}

// RunOnce runs every job in order. A failing job is logged and the batch
// moves on; with fail-fast its error is returned instead and the remaining
// jobs are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.log.Info("starting batch", "jobs", len(s.jobs))
	if s.prepare != nil {
		if err := s.prepare(ctx); err != nil {
			s.log.Error("batch not started", "error", err)
			return fmt.Errorf("prepare batch: %w", err)
		}
	}
	failed := 0
	for _, job := range s.jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		s.log.Info("running job", "job", job.Name)
		err := job.Run(ctx)
		if err == nil {
			s.log.Info("job finished", "job", job.Name, "duration", time.Since(start))
			continue
		}

		failed++
		s.log.Error("job failed", "job", job.Name, "error", err)
		if s.failFast || errors.Is(err, context.Canceled) {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}
	s.log.Info("batch finished", "failed", failed)
	return nil
}

// Run blocks until ctx is cancelled, running the batch every day at the
// configured hour.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		next := NextRun(now, s.hour)
		s.log.Info("next batch scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("batch failed", "error", err)
			}
		}
	}
}

// NextRun returns the first time strictly after now whose hour is hour and
// whose minutes and seconds are zero, in now's location.
func NextRun(now time.Time, hour int) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
