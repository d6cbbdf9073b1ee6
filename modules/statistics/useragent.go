// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"github.com/mileusna/useragent"
)

// deviceClass buckets a User-Agent header for the download counter.
func deviceClass(uaString string) string {
	if uaString == "" {
		return "unknown"
	}
	ua := useragent.Parse(uaString)
	switch {
	case ua.Bot:
		return "bot"
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	default:
		return "desktop"
	}
}
