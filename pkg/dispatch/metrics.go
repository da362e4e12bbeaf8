// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fnhive",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Dispatched requests by method and outcome.",
	}, []string{"method", "outcome"})

	duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fnhive",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Time spent dispatching a request, including module resolution.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

// methodLabel keeps the method label bounded: clients choose the method.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	default:
		return "other"
	}
}

func observe(method, outcome string, start time.Time) {
	method = methodLabel(method)
	requests.WithLabelValues(method, outcome).Inc()
	duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
