// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Healthy bool     `json:"healthy"`
	Roles   []Handle `json:"roles"`
}

// Router returns the supervisor admin routes: /health reports every role and
// answers 503 once any role is Terminated; /metrics exposes Prometheus metrics.
func (s *Supervisor) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Supervisor) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Healthy: s.Healthy(), Roles: s.Snapshot()}
	if resp.Roles == nil {
		resp.Roles = []Handle{}
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
