// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
)

// Registry treats the task name as the natural key of a job and converges
// the job table towards "one job per scheduled task".
type Registry struct {
	jobs   *JobStore
	locker Locker
	logger *slog.Logger
}

// NewRegistry creates a registry. A nil locker falls back to LocalLocker.
func NewRegistry(jobs *JobStore, locker Locker, logger *slog.Logger) *Registry {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Registry{
		jobs:   jobs,
		locker: locker,
		logger: logger,
	}
}

// Jobs returns the underlying job store.
func (r *Registry) Jobs() *JobStore {
	return r.jobs
}

// FindActiveJob returns the lowest-id job for task. Duplicates are tolerated
// and reported as a warning.
func (r *Registry) FindActiveJob(ctx context.Context, task string) (Job, bool, error) {
	jobs, err := r.jobs.GetJobsByTask(ctx, task)
	if err != nil {
		return Job{}, false, err
	}
	if len(jobs) == 0 {
		return Job{}, false, nil
	}
	if len(jobs) > 1 {
		ids := make([]int64, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		r.logger.Warn("duplicate jobs for task", "task", task, "job_ids", ids)
	}
	return jobs[0], true, nil
}

// EnsureScheduled creates a job from spec unless one already exists for
// spec.Task. It returns the job for the task and whether it was created.
func (r *Registry) EnsureScheduled(ctx context.Context, spec Spec) (Job, bool, error) {
	if spec.Task == "" {
		return Job{}, false, fmt.Errorf("task name is required")
	}

	unlock, err := r.locker.Lock(ctx, "task:"+spec.Task)
	if err != nil {
		return Job{}, false, fmt.Errorf("locking task %s: %w", spec.Task, err)
	}
	defer unlock()

	if existing, ok, err := r.FindActiveJob(ctx, spec.Task); err != nil {
		return Job{}, false, err
	} else if ok {
		return existing, false, nil
	}

	created, err := r.jobs.InsertIfAbsent(ctx, spec.job())
	if err != nil {
		return Job{}, false, err
	}

	job, ok, err := r.FindActiveJob(ctx, spec.Task)
	if err != nil {
		return Job{}, false, err
	}
	if !ok {
		return Job{}, false, fmt.Errorf("job for %s vanished after insert", spec.Task)
	}

	if created {
		r.logger.Info("scheduled job", "task", spec.Task, "job_id", job.ID, "fire_time", job.FireTime)
	}
	return job, created, nil
}

// EnsureUnscheduled deletes every job for task and returns how many were
// removed. It is a no-op when none exists.
func (r *Registry) EnsureUnscheduled(ctx context.Context, task string) (int, error) {
	unlock, err := r.locker.Lock(ctx, "task:"+task)
	if err != nil {
		return 0, fmt.Errorf("locking task %s: %w", task, err)
	}
	defer unlock()

	jobs, err := r.jobs.GetJobsByTask(ctx, task)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, j := range jobs {
		if err := r.jobs.Delete(ctx, j.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		r.logger.Info("unscheduled job", "task", task, "removed", removed)
	}
	return removed, nil
}
