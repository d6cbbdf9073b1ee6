// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package statistics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconcile actions reported by statistics_job_reconcile_total.
const (
	actionCreated = "created"
	actionKept    = "kept"
	actionRemoved = "removed"
	actionAbsent  = "absent"
)

type metrics struct {
	downloads   *prometheus.CounterVec
	geolocation *prometheus.CounterVec
	reconcile   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statistics_downloads_recorded_total",
			Help: "Download events recorded by client device class.",
		}, []string{"device"}),
		geolocation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statistics_geolocation_total",
			Help: "IP geolocation attempts by result.",
		}, []string{"result"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statistics_job_reconcile_total",
			Help: "Recurring job reconciliations by task and action.",
		}, []string{"task", "action"}),
	}
	if reg == nil {
		return m
	}

	m.downloads = register(reg, m.downloads)
	m.geolocation = register(reg, m.geolocation)
	m.reconcile = register(reg, m.reconcile)
	return m
}

// register adds c to reg, reusing the collector already registered under
// the same name when the module is initialised twice.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
