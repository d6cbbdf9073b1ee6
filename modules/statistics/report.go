// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ItemCount is the number of downloads of one item.
type ItemCount struct {
	ItemID int64
	Count  int64
}

// DayCount is the number of downloads on one UTC day.
type DayCount struct {
	Day   string
	Count int64
}

// Report summarises downloads over a time window.
type Report struct {
	Start      time.Time
	End        time.Time
	Total      int64
	Items      []ItemCount
	Days       []DayCount
	Unresolved int64
	PiwikLink  string
}

// BuildReport collects the statistics of the 24 hours before now.
func (m *Module) BuildReport(ctx context.Context, now time.Time) (Report, error) {
	r := Report{Start: now.Add(-24 * time.Hour).UTC(), End: now.UTC()}

	perItem, err := m.downloads.CountSince(ctx, r.Start)
	if err != nil {
		return r, err
	}
	ids := make([]int64, 0, len(perItem))
	for id, n := range perItem {
		ids = append(ids, id)
		r.Items = append(r.Items, ItemCount{ItemID: id, Count: n})
		r.Total += n
	}
	sort.Slice(r.Items, func(i, j int) bool {
		if r.Items[i].Count != r.Items[j].Count {
			return r.Items[i].Count > r.Items[j].Count
		}
		return r.Items[i].ItemID < r.Items[j].ItemID
	})

	daily, err := m.downloads.DailyCounts(ctx, ids, &r.Start, &r.End)
	if err != nil {
		return r, err
	}
	for day, n := range daily {
		r.Days = append(r.Days, DayCount{Day: day, Count: n})
	}
	sort.Slice(r.Days, func(i, j int) bool { return r.Days[i].Day < r.Days[j].Day })

	if r.Unresolved, err = m.locations.CountUnresolved(ctx); err != nil {
		return r, err
	}

	if cfg, err := m.ctx.Settings.Load(m.Name()); err == nil {
		r.PiwikLink = piwikLink(cfg.PiwikURL, cfg.PiwikID)
	}
	return r, nil
}

// piwikLink points at the Piwik dashboard of the site, or "" when Piwik is
// not configured.
func piwikLink(base, siteID string) string {
	if base == "" || siteID == "" {
		return ""
	}
	q := url.Values{}
	q.Set("module", "CoreHome")
	q.Set("action", "index")
	q.Set("idSite", siteID)
	q.Set("period", "day")
	q.Set("date", "yesterday")
	return strings.TrimRight(base, "/") + "/index.php?" + q.Encode()
}

// Subject is the mail subject line.
func (r Report) Subject() string {
	return "Download statistics for " + r.End.Format("2006-01-02")
}

// Text renders the report as plain text.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Downloads from %s to %s (UTC)\n\n",
		r.Start.Format("2006-01-02 15:04"), r.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Total downloads: %d\n", r.Total)

	if len(r.Items) > 0 {
		b.WriteString("\nPer item:\n")
		for _, it := range r.Items {
			fmt.Fprintf(&b, "  item %d: %d\n", it.ItemID, it.Count)
		}
	}
	if len(r.Days) > 0 {
		b.WriteString("\nPer day:\n")
		for _, d := range r.Days {
			fmt.Fprintf(&b, "  %s: %d\n", d.Day, d.Count)
		}
	}

	fmt.Fprintf(&b, "\nAddresses awaiting geolocation: %d\n", r.Unresolved)
	if r.PiwikLink != "" {
		fmt.Fprintf(&b, "Piwik: %s\n", r.PiwikLink)
	}
	return b.String()
}
