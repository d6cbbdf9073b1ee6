// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olegiv/ocms-statistics/internal/store"
)

// ErrJobNotFound is returned when no job has the requested id.
var ErrJobNotFound = errors.New("job not found")

const jobColumns = "job_id, task, priority, run_only_once, fire_time, time_interval, status, params, creator_user_id, last_run"

// JobStore reads and writes the scheduler_job table.
type JobStore struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewJobStore creates a job store.
func NewJobStore(db *sql.DB, dialect store.Dialect) *JobStore {
	return &JobStore{db: db, dialect: dialect}
}

// GetJobsByTask returns every job for the task in id order.
func (s *JobStore) GetJobsByTask(ctx context.Context, task string) ([]Job, error) {
	return s.list(ctx, "SELECT "+jobColumns+" FROM scheduler_job WHERE task = ? ORDER BY job_id", task)
}

// DueJobs returns jobs waiting to run whose fire time is not after now,
// ordered by priority then fire time.
func (s *JobStore) DueJobs(ctx context.Context, now time.Time) ([]Job, error) {
	return s.list(ctx, "SELECT "+jobColumns+" FROM scheduler_job WHERE status = ? AND fire_time <= ? "+
		"ORDER BY priority, fire_time, job_id", int(StatusToRun), now.UTC())
}

// RecoverStale releases jobs that were left RUNNING by a run that started
// before cutoff and never recorded its end. Recurring jobs go back to
// TO_RUN, run-once jobs are marked FAILED. It returns the number of jobs
// released.
func (s *JobStore) RecoverStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, q := range []struct {
		once   bool
		status Status
	}{
		{once: false, status: StatusToRun},
		{once: true, status: StatusFailed},
	} {
		res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
			"UPDATE scheduler_job SET status = ? WHERE status = ? AND run_only_once = ? "+
				"AND (last_run IS NULL OR last_run < ?)"),
			int(q.status), int(StatusRunning), q.once, cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("recovering stale jobs: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("recovering stale jobs: %w", err)
		}
		total += n
	}
	return total, nil
}

// Get returns the job with the given id.
func (s *JobStore) Get(ctx context.Context, id int64) (Job, error) {
	jobs, err := s.list(ctx, "SELECT "+jobColumns+" FROM scheduler_job WHERE job_id = ?", id)
	if err != nil {
		return Job{}, err
	}
	if len(jobs) == 0 {
		return Job{}, ErrJobNotFound
	}
	return jobs[0], nil
}

// Save inserts the job when its ID is zero and updates it otherwise.
func (s *JobStore) Save(ctx context.Context, j *Job) error {
	params, err := encodeParams(j.Params)
	if err != nil {
		return err
	}

	if j.ID == 0 {
		return s.insert(ctx, j, params)
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		"UPDATE scheduler_job SET task = ?, priority = ?, run_only_once = ?, fire_time = ?, time_interval = ?, "+
			"status = ?, params = ?, creator_user_id = ?, last_run = ? WHERE job_id = ?"),
		j.Task, j.Priority, j.RunOnlyOnce, j.FireTime.UTC(), int64(j.Interval/time.Second),
		int(j.Status), params, j.CreatorUserID, utcNullTime(j.LastRun), j.ID)
	if err != nil {
		return fmt.Errorf("updating job %d: %w", j.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job %d: %w", j.ID, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Delete removes a job. Deleting a missing job is not an error.
func (s *JobStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind("DELETE FROM scheduler_job WHERE job_id = ?"), id); err != nil {
		return fmt.Errorf("deleting job %d: %w", id, err)
	}
	return nil
}

// InsertIfAbsent inserts the job only when no job exists for its task and
// reports whether a row was written.
func (s *JobStore) InsertIfAbsent(ctx context.Context, j Job) (bool, error) {
	params, err := encodeParams(j.Params)
	if err != nil {
		return false, err
	}

	d := s.dialect
	query := "INSERT INTO scheduler_job (task, priority, run_only_once, fire_time, time_interval, status, params, creator_user_id) " +
		"SELECT " + d.Cast("?", "text") + ", " + d.Cast("?", "integer") + ", " + d.Cast("?", "boolean") + ", " +
		d.Cast("?", "timestamptz") + ", " + d.Cast("?", "bigint") + ", " + d.Cast("?", "integer") + ", " +
		d.Cast("?", "text") + ", " + d.Cast("?", "bigint") + d.FromDual() +
		" WHERE NOT EXISTS (SELECT 1 FROM scheduler_job WHERE task = ?)"

	res, err := s.db.ExecContext(ctx, d.Rebind(query),
		j.Task, j.Priority, j.RunOnlyOnce, j.FireTime.UTC(), int64(j.Interval/time.Second),
		int(j.Status), params, j.CreatorUserID, j.Task)
	if err != nil {
		return false, fmt.Errorf("inserting job for %s: %w", j.Task, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting job for %s: %w", j.Task, err)
	}
	return n > 0, nil
}

func (s *JobStore) insert(ctx context.Context, j *Job, params string) error {
	query := "INSERT INTO scheduler_job (task, priority, run_only_once, fire_time, time_interval, status, params, creator_user_id, last_run) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	args := []any{j.Task, j.Priority, j.RunOnlyOnce, j.FireTime.UTC(), int64(j.Interval / time.Second),
		int(j.Status), params, j.CreatorUserID, utcNullTime(j.LastRun)}

	if s.dialect.SupportsReturning() {
		if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query+" RETURNING job_id"), args...).Scan(&j.ID); err != nil {
			return fmt.Errorf("inserting job for %s: %w", j.Task, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("inserting job for %s: %w", j.Task, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading job id: %w", err)
	}
	j.ID = id
	return nil
}

func (s *JobStore) list(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		var (
			j        Job
			interval int64
			status   int
			params   string
		)
		if err := rows.Scan(&j.ID, &j.Task, &j.Priority, &j.RunOnlyOnce, &j.FireTime, &interval,
			&status, &params, &j.CreatorUserID, &j.LastRun); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		j.FireTime = j.FireTime.UTC()
		j.Interval = time.Duration(interval) * time.Second
		j.Status = Status(status)
		if params != "" {
			if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
				return nil, fmt.Errorf("decoding params of job %d: %w", j.ID, err)
			}
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

func encodeParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding job params: %w", err)
	}
	return string(b), nil
}

func utcNullTime(t sql.NullTime) sql.NullTime {
	if t.Valid {
		t.Time = t.Time.UTC()
	}
	return t
}
