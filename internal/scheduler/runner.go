// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// saveTimeout bounds the write that records a finished run. It does not
// inherit the run's deadline, which may already have expired.
const saveTimeout = 30 * time.Second

// Handler executes one run of a job.
type Handler func(ctx context.Context, job Job) error

// Runner executes due jobs through the handler registered for their task.
type Runner struct {
	jobs    *JobStore
	locker  Locker
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	// Jobs left RUNNING longer than this are treated as abandoned.
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRunner creates a runner. A nil locker falls back to LocalLocker.
func NewRunner(jobs *JobStore, locker Locker, logger *slog.Logger) *Runner {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Runner{
		jobs:     jobs,
		locker:   locker,
		cron:     cron.New(),
		logger:   logger,
		timeout:    10 * time.Minute,
		staleAfter: 20 * time.Minute,
		now:        time.Now,
		handlers:   make(map[string]Handler),
	}
}

// Handle registers the handler for a task name.
func (r *Runner) Handle(task string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[task] = h
}

func (r *Runner) handler(task string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[task]
	return h, ok
}

// Start checks for due jobs every minute.
func (r *Runner) Start() error {
	_, err := r.cron.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.RunDue(ctx); err != nil {
			r.logger.Error("failed to run due jobs", "error", err)
		}
	})
	if err != nil {
		return err
	}

	r.mu.RLock()
	tasks := len(r.handlers)
	r.mu.RUnlock()

	r.cron.Start()
	r.logger.Info("job runner started", "tasks", tasks)
	return nil
}

// Stop waits for a running tick to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("job runner stopped")
}

// RunDue executes every due job that has a handler and returns how many ran.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	unlock, err := r.locker.Lock(ctx, "runner")
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := r.now()
	if n, err := r.jobs.RecoverStale(ctx, now.Add(-r.staleAfter)); err != nil {
		return 0, err
	} else if n > 0 {
		r.logger.Warn("recovered jobs abandoned in RUNNING state", "category", "scheduler", "jobs", n)
	}

	due, err := r.jobs.DueJobs(ctx, now)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, job := range due {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		h, ok := r.handler(job.Task)
		if !ok {
			r.logger.Debug("no handler for due job", "task", job.Task, "job_id", job.ID)
			continue
		}
		if err := r.run(ctx, job, h, now); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}

// Exclusive runs fn while holding the lock that RunDue holds, so fn never
// overlaps a scheduled run in this or another instance.
func (r *Runner) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	unlock, err := r.locker.Lock(ctx, "runner")
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// RunTask executes the handler for task immediately, outside the job
// table's schedule. The task's current job, if any, is passed along.
func (r *Runner) RunTask(ctx context.Context, task string) error {
	h, ok := r.handler(task)
	if !ok {
		return errors.New("no handler registered for " + task)
	}

	unlock, err := r.locker.Lock(ctx, "runner")
	if err != nil {
		return err
	}
	defer unlock()

	job := Job{Task: task}
	jobs, err := r.jobs.GetJobsByTask(ctx, task)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		job = jobs[0]
	}
	return h(ctx, job)
}

func (r *Runner) run(ctx context.Context, job Job, h Handler, now time.Time) error {
	// last_run doubles as the start time while the job is RUNNING.
	job.Status = StatusRunning
	job.LastRun.Time, job.LastRun.Valid = now, true
	if err := r.jobs.Save(ctx, &job); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil
		}
		return err
	}

	start := time.Now()
	runErr := h(ctx, job)

	switch {
	case job.RunOnlyOnce && runErr != nil:
		job.Status = StatusFailed
	case job.RunOnlyOnce:
		job.Status = StatusDone
	default:
		job.Status = StatusToRun
		job.FireTime = advance(job.FireTime, now, job.Interval)
	}

	if runErr != nil {
		r.logger.Error("job failed", "task", job.Task, "job_id", job.ID, "error", runErr)
	} else {
		r.logger.Info("job completed", "task", job.Task, "job_id", job.ID,
			"duration", time.Since(start), "next_fire_time", job.FireTime)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := r.jobs.Save(saveCtx, &job); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// Unscheduled while running.
			return nil
		}
		return err
	}
	return nil
}
