// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/olegiv/ocms-statistics/internal/scheduler"
	"github.com/olegiv/ocms-statistics/internal/settings"
)

// Task names of the module's recurring jobs.
const (
	TaskSendReport         = "TASK_STATISTICS_SEND_REPORT"
	TaskPerformGeolocation = "TASK_STATISTICS_PERFORM_GEOLOCATION"
)

const (
	reportInterval      = 24 * time.Hour
	geolocationInterval = time.Hour
	jobPriority         = 1
)

// Form field names posted by the configuration page.
const (
	FieldPiwikURL       = "piwikurl"
	FieldPiwikAPIKey    = "piwikapikey"
	FieldPiwikID        = "piwikid"
	FieldIPInfoDBAPIKey = "ipinfodbapikey"
	FieldReport         = "report"
	FieldSubmitConfig   = "submitConfig"
)

var requiredFields = []string{
	FieldPiwikURL,
	FieldPiwikAPIKey,
	FieldPiwikID,
	FieldIPInfoDBAPIKey,
	FieldReport,
	FieldSubmitConfig,
}

// ErrPermissionDenied is returned when the caller is not a logged-in administrator.
var ErrPermissionDenied = errors.New("you should be an administrator")

// ValidationError reports rejected form input.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing fields: " + strings.Join(e.Missing, ", ")
	}
	return e.Reason
}

// Principal is the caller of a workflow operation.
type Principal struct {
	UserID   int64
	LoggedIn bool
	Admin    bool
}

func (p Principal) authorize() error {
	if !p.LoggedIn || !p.Admin {
		return ErrPermissionDenied
	}
	return nil
}

// FormValues pre-fills the configuration form.
type FormValues struct {
	PiwikURL       string `json:"piwikurl"`
	PiwikAPIKey    string `json:"piwikapikey"`
	PiwikID        string `json:"piwikid"`
	IPInfoDBAPIKey string `json:"ipinfodbapikey"`
	Report         string `json:"report"`
}

func formValues(cfg settings.ModuleConfig) FormValues {
	return FormValues{
		PiwikURL:       cfg.PiwikURL,
		PiwikAPIKey:    cfg.PiwikAPIKey,
		PiwikID:        cfg.PiwikID,
		IPInfoDBAPIKey: cfg.IPInfoDBAPIKey,
		Report:         settings.FormatReport(cfg.ReportEnabled),
	}
}

// ConfigWorkflow reads and saves the module configuration and keeps the
// module's recurring jobs in line with it.
type ConfigWorkflow struct {
	module  string
	gateway *settings.Gateway
	jobs    *scheduler.Registry
	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time
}

// NewConfigWorkflow creates the workflow for the named module.
func NewConfigWorkflow(module string, gateway *settings.Gateway, jobs *scheduler.Registry, logger *slog.Logger) *ConfigWorkflow {
	return &ConfigWorkflow{
		module:  module,
		gateway: gateway,
		jobs:    jobs,
		logger:  logger,
		metrics: newMetrics(nil),
		now:     time.Now,
	}
}

// View returns the current configuration for the form.
func (w *ConfigWorkflow) View(_ context.Context, p Principal) (FormValues, error) {
	if err := p.authorize(); err != nil {
		return FormValues{}, err
	}
	cfg, err := w.gateway.Load(w.module)
	if err != nil {
		return FormValues{}, err
	}
	return formValues(cfg), nil
}

// Submit validates the posted form, saves the configuration and reconciles
// the report and geolocation jobs.
func (w *ConfigWorkflow) Submit(ctx context.Context, p Principal, form url.Values) error {
	if err := p.authorize(); err != nil {
		return err
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := form[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}

	report := strings.TrimSpace(form.Get(FieldReport))
	if report != "0" && report != "1" {
		return &ValidationError{Reason: fmt.Sprintf("report must be 0 or 1, got %q", report)}
	}

	cfg := settings.ModuleConfig{
		PiwikURL:       strings.TrimSpace(form.Get(FieldPiwikURL)),
		PiwikAPIKey:    strings.TrimSpace(form.Get(FieldPiwikAPIKey)),
		PiwikID:        strings.TrimSpace(form.Get(FieldPiwikID)),
		IPInfoDBAPIKey: strings.TrimSpace(form.Get(FieldIPInfoDBAPIKey)),
		ReportEnabled:  report == "1",
	}
	if err := settings.ValidatePiwikURL(cfg.PiwikURL); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	if err := w.gateway.Save(w.module, cfg); err != nil {
		return fmt.Errorf("saving %s configuration: %w", w.module, err)
	}
	w.logger.Info("statistics configuration saved",
		"category", "config",
		"user_id", p.UserID,
		"report", cfg.ReportEnabled,
	)

	if cfg.ReportEnabled {
		if err := w.ScheduleReportJob(ctx, p.UserID); err != nil {
			return err
		}
	} else if err := w.UnscheduleReportJob(ctx); err != nil {
		return err
	}

	return w.ScheduleGeolocationJob(ctx, cfg.IPInfoDBAPIKey, p.UserID)
}

// ScheduleReportJob makes sure the daily report job exists.
func (w *ConfigWorkflow) ScheduleReportJob(ctx context.Context, creatorID int64) error {
	return w.ensure(ctx, scheduler.Spec{
		Task:          TaskSendReport,
		Priority:      jobPriority,
		FireTime:      scheduler.NextFireTime(w.now()),
		Interval:      reportInterval,
		Params:        map[string]any{},
		CreatorUserID: creatorID,
	})
}

// UnscheduleReportJob removes the report job if there is one.
func (w *ConfigWorkflow) UnscheduleReportJob(ctx context.Context) error {
	removed, err := w.jobs.EnsureUnscheduled(ctx, TaskSendReport)
	if err != nil {
		return fmt.Errorf("unscheduling %s: %w", TaskSendReport, err)
	}
	action := actionAbsent
	if removed > 0 {
		action = actionRemoved
	}
	w.metrics.reconcile.WithLabelValues(TaskSendReport, action).Inc()
	return nil
}

// ScheduleGeolocationJob makes sure the hourly geolocation job exists. An
// existing job is left as it is; the task reads the current API key from
// the configuration and only falls back to the job parameter.
func (w *ConfigWorkflow) ScheduleGeolocationJob(ctx context.Context, apiKey string, creatorID int64) error {
	return w.ensure(ctx, scheduler.Spec{
		Task:          TaskPerformGeolocation,
		Priority:      jobPriority,
		FireTime:      scheduler.NextFireTime(w.now()),
		Interval:      geolocationInterval,
		Params:        map[string]any{"apikey": apiKey},
		CreatorUserID: creatorID,
	})
}

func (w *ConfigWorkflow) ensure(ctx context.Context, spec scheduler.Spec) error {
	_, created, err := w.jobs.EnsureScheduled(ctx, spec)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", spec.Task, err)
	}
	action := actionKept
	if created {
		action = actionCreated
	}
	w.metrics.reconcile.WithLabelValues(spec.Task, action).Inc()
	return nil
}
