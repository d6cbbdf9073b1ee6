// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ocms-statistics/internal/download"
	"github.com/olegiv/ocms-statistics/internal/iplocation"
	"github.com/olegiv/ocms-statistics/internal/middleware"
	"github.com/olegiv/ocms-statistics/internal/settings"
)

//go:embed templates/*.html
var templatesFS embed.FS

var configTemplate = template.Must(template.ParseFS(templatesFS, "templates/config.html"))

// savedResponse is the positional success body of the configuration POST.
var savedResponse = []any{true, "Changes saved"}

// principalFrom builds the workflow principal from the request's session user.
func principalFrom(r *http.Request) Principal {
	user := middleware.GetUser(r)
	if user == nil {
		return Principal{}
	}
	return Principal{UserID: user.ID, LoggedIn: true, Admin: user.IsAdmin()}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v > 0}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps workflow errors onto the JSON error contract.
func (m *Module) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrPermissionDenied):
		middleware.WriteJSONError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &verr):
		middleware.WriteJSONError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, settings.ErrConfigParse):
		m.ctx.Logger.Error("statistics configuration is malformed", "category", "config", "error", err)
		middleware.WriteJSONError(w, http.StatusInternalServerError, "Configuration file is malformed")
	default:
		m.ctx.Logger.Error("statistics request failed", "path", r.URL.Path, "error", err)
		middleware.WriteJSONError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// handleConfigView renders the configuration form, or its values as JSON.
func (m *Module) handleConfigView(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	values, err := m.workflow.View(r.Context(), p)
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, values)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := configTemplate.Execute(w, values); err != nil {
		m.ctx.Logger.Error("render error", "error", err)
	}
}

// handleConfigSubmit saves the configuration form.
func (m *Module) handleConfigSubmit(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if err := p.authorize(); err != nil {
		m.writeError(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	if err := m.workflow.Submit(r.Context(), p, r.PostForm); err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, savedResponse)
}

type downloadRequest struct {
	ItemID int64 `json:"item_id"`
}

// handleRecordDownload records one download of an item by the caller.
func (m *Module) handleRecordDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
			middleware.WriteJSONError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	} else {
		id, err := strconv.ParseInt(r.FormValue("item_id"), 10, 64)
		if err != nil {
			middleware.WriteJSONError(w, http.StatusBadRequest, "item_id must be an integer")
			return
		}
		req.ItemID = id
	}
	if req.ItemID <= 0 {
		middleware.WriteJSONError(w, http.StatusBadRequest, "item_id must be positive")
		return
	}

	ip := middleware.ClientIP(r)
	loc, err := m.locations.GetOrCreate(r.Context(), ip)
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	event := download.Event{
		ItemID:       req.ItemID,
		Date:         m.now(),
		IP:           ip,
		IPLocationID: nullInt64(loc.ID),
	}
	if user := middleware.GetUser(r); user != nil {
		event.UserID = nullInt64(user.ID)
	}

	id, err := m.downloads.Record(r.Context(), event)
	if err != nil {
		if errors.Is(err, download.ErrInvalidEvent) {
			middleware.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		m.writeError(w, r, err)
		return
	}
	m.metrics.downloads.WithLabelValues(deviceClass(r.UserAgent())).Inc()

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "download_id": id})
}

type downloadJSON struct {
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	IP        string    `json:"ip"`
	UserID    *int64    `json:"user_id"`
	Latitude  string    `json:"latitude"`
	Longitude string    `json:"longitude"`
}

type itemStatsJSON struct {
	ItemID    int64            `json:"item_id"`
	Downloads []downloadJSON   `json:"downloads"`
	Count     int64            `json:"count"`
	Daily     map[string]int64 `json:"daily"`
}

// handleItemStats returns the located downloads of one item with daily totals.
func (m *Module) handleItemStats(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || itemID <= 0 {
		middleware.WriteJSONError(w, http.StatusBadRequest, "Invalid item id")
		return
	}

	q := download.Query{ItemIDs: []int64{itemID}, OnlyLocated: true}
	if q.Start, err = parseTimeParam(r, "start", false); err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.End, err = parseTimeParam(r, "end", true); err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			middleware.WriteJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}

	events, err := m.downloads.Query(r.Context(), q)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	count, err := m.downloads.Count(r.Context(), q)
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	var start, end *time.Time
	if !q.Start.IsZero() {
		start = &q.Start
	}
	if !q.End.IsZero() {
		end = &q.End
	}
	daily, err := m.downloads.DailyCounts(r.Context(), q.ItemIDs, start, end)
	if err != nil {
		m.writeError(w, r, err)
		return
	}

	resp := itemStatsJSON{ItemID: itemID, Downloads: make([]downloadJSON, 0, len(events)), Count: count, Daily: daily}
	for _, e := range events {
		d := downloadJSON{
			ID:        e.ID,
			Date:      e.Date,
			IP:        e.IP,
			Latitude:  iplocation.FormatCoordinate(e.Latitude),
			Longitude: iplocation.FormatCoordinate(e.Longitude),
		}
		if e.UserID.Valid {
			uid := e.UserID.Int64
			d.UserID = &uid
		}
		resp.Downloads = append(resp.Downloads, d)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGeolocate runs the geolocation task now.
func (m *Module) handleGeolocate(w http.ResponseWriter, r *http.Request) {
	res, err := m.GeolocateNow(r.Context())
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"resolved":   res.Resolved,
		"unresolved": res.Unresolved,
	})
}

// parseTimeParam accepts RFC 3339 or a bare date. A bare end date covers
// the whole day.
func parseTimeParam(r *http.Request, name string, endOfDay bool) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, errors.New(name + " must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
