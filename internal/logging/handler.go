// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logging builds the service logger and a slog handler that mirrors
// warnings and errors into the event_log table.
package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/olegiv/ocms-statistics/internal/store"
)

// Event levels stored in event_log.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event categories stored in event_log.
const (
	CategoryAuth        = "auth"
	CategoryConfig      = "config"
	CategoryScheduler   = "scheduler"
	CategoryGeolocation = "geolocation"
	CategorySystem      = "system"
)

// ParseLevel maps a configuration level name to a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w. Development builds get text output,
// everything else JSON.
func New(w io.Writer, level string, dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if dev {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// EventLogHandler is a slog.Handler that wraps another handler and also writes
// records at or above its threshold to event_log.
type EventLogHandler struct {
	inner   slog.Handler
	db      *sql.DB
	dialect store.Dialect
	level   slog.Level
	attrs   []slog.Attr
}

// NewEventLogHandler wraps inner, forwarding WARN and above to event_log.
func NewEventLogHandler(inner slog.Handler, db *sql.DB, dialect store.Dialect) *EventLogHandler {
	return &EventLogHandler{
		inner:   inner,
		db:      db,
		dialect: dialect,
		level:   slog.LevelWarn,
	}
}

// WithLevel returns a copy of h that forwards records at or above level.
func (h *EventLogHandler) WithLevel(level slog.Level) *EventLogHandler {
	c := *h
	c.level = level
	return &c
}

// Enabled implements slog.Handler.
func (h *EventLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *EventLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= h.level {
		h.write(r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *EventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.inner = h.inner.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

// WithGroup implements slog.Handler.
func (h *EventLogHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	return &c
}

func (h *EventLogHandler) write(r slog.Record) {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	created := r.Time
	if created.IsZero() {
		created = time.Now()
	}

	// Background context: the event is kept even when the request is cancelled.
	_, _ = h.db.ExecContext(context.Background(),
		h.dialect.Rebind(`INSERT INTO event_log (level, category, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`),
		eventLevel(r.Level), category(r.Message, attrs), r.Message, metadata(attrs), created.UTC())
}

func eventLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// category prefers an explicit "category" attribute and otherwise guesses
// from the message.
func category(msg string, attrs []slog.Attr) string {
	for _, a := range attrs {
		if a.Key == "category" {
			return a.Value.String()
		}
	}

	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "login") || strings.Contains(msg, "logout") || strings.Contains(msg, "auth"):
		return CategoryAuth
	case strings.Contains(msg, "config") || strings.Contains(msg, "setting"):
		return CategoryConfig
	case strings.Contains(msg, "job") || strings.Contains(msg, "task") || strings.Contains(msg, "schedul"):
		return CategoryScheduler
	case strings.Contains(msg, "geolocat") || strings.Contains(msg, "geoip"):
		return CategoryGeolocation
	default:
		return CategorySystem
	}
}

func metadata(attrs []slog.Attr) string {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if a.Key == "category" {
			continue
		}
		v := a.Value.Resolve()
		switch v.Kind() {
		case slog.KindString:
			m[a.Key] = v.String()
		case slog.KindInt64:
			m[a.Key] = v.Int64()
		case slog.KindUint64:
			m[a.Key] = v.Uint64()
		case slog.KindFloat64:
			m[a.Key] = v.Float64()
		case slog.KindBool:
			m[a.Key] = v.Bool()
		case slog.KindAny:
			if err, ok := v.Any().(error); ok {
				m[a.Key] = err.Error()
				continue
			}
			m[a.Key] = fmt.Sprint(v.Any())
		default:
			m[a.Key] = v.String()
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Event is a row of event_log.
type Event struct {
	ID        int64
	Level     string
	Category  string
	Message   string
	Metadata  string
	CreatedAt time.Time
}

// ListEvents returns the newest events first.
func ListEvents(ctx context.Context, db *sql.DB, dialect store.Dialect, limit int) ([]Event, error) {
	rows, err := db.QueryContext(ctx,
		dialect.Rebind(`SELECT id, level, category, message, metadata, created_at FROM event_log ORDER BY created_at DESC, id DESC LIMIT ?`),
		limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Level, &e.Category, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
