// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fnhive",
		Subsystem: "supervisor",
		Name:      "restarts_total",
		Help:      "Child restarts by role.",
	}, []string{"role"})

	terminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fnhive",
		Subsystem: "supervisor",
		Name:      "terminations_total",
		Help:      "Roles that exceeded the restart limit.",
	}, []string{"role"})

	roleUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fnhive",
		Subsystem: "supervisor",
		Name:      "role_up",
		Help:      "1 while the role reports ready, 0 otherwise.",
	}, []string{"role"})
)

func statusGauge(role Role, status Status) {
	v := 0.0
	if status == StatusRunning {
		v = 1
	}
	roleUp.WithLabelValues(string(role)).Set(v)
}
