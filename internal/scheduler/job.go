// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler keeps the persisted job table, reconciles named
// periodic tasks against it and runs the jobs that fall due.
package scheduler

import (
	"database/sql"
	"fmt"
	"time"
)

// Status is the lifecycle state of a persisted job.
type Status int

// Job statuses as stored in scheduler_job.status.
const (
	StatusToRun   Status = 0
	StatusDone    Status = 1
	StatusRunning Status = 2
	StatusFailed  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusToRun:
		return "TO_RUN"
	case StatusDone:
		return "DONE"
	case StatusRunning:
		return "RUNNING"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Job is a row of the scheduler_job table.
type Job struct {
	ID            int64
	Task          string
	Priority      int
	RunOnlyOnce   bool
	FireTime      time.Time
	Interval      time.Duration
	Status        Status
	Params        map[string]any
	CreatorUserID sql.NullInt64
	LastRun       sql.NullTime
}

// Param returns a string parameter, or "" when absent or not a string.
func (j Job) Param(key string) string {
	v, _ := j.Params[key].(string)
	return v
}

// Spec describes the job EnsureScheduled creates when a task has none.
type Spec struct {
	Task          string
	Priority      int
	RunOnlyOnce   bool
	FireTime      time.Time
	Interval      time.Duration
	Params        map[string]any
	CreatorUserID int64
}

func (s Spec) job() Job {
	j := Job{
		Task:        s.Task,
		Priority:    s.Priority,
		RunOnlyOnce: s.RunOnlyOnce,
		FireTime:    s.FireTime,
		Interval:    s.Interval,
		Status:      StatusToRun,
		Params:      s.Params,
	}
	if s.CreatorUserID > 0 {
		j.CreatorUserID = sql.NullInt64{Int64: s.CreatorUserID, Valid: true}
	}
	return j
}

// NextFireTime returns 01:00 local time on the day after now.
func NextFireTime(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 1, 0, 0, 0, now.Location())
}

// advance moves fire past now by whole intervals.
func advance(fire, now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return fire
	}
	if fire.After(now) {
		return fire
	}
	steps := now.Sub(fire)/interval + 1
	return fire.Add(steps * interval)
}
