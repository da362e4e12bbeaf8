// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package loader implements the loader role: it ingests a directory of module
// manifests into a content-addressed store and serves them to servers.
package loader

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/fnhive/pkg/api"
	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/module"
)

var errInvalidToken = httperr.New("invalid access token", http.StatusForbidden)

// Source serves stored modules over HTTP.
type Source struct {
	store       *Store
	dir         string
	accessToken string

	// reloads are serialized so a slow scan cannot interleave with another
	reloadMu sync.Mutex
}

// NewSource creates a module source. An empty accessToken disables the token check.
func NewSource(store *Store, dir, accessToken string) *Source {
	return &Source{store: store, dir: dir, accessToken: accessToken}
}

// Reload re-ingests the modules directory.
func (s *Source) Reload(ctx context.Context) (int, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	n, err := Ingest(ctx, s.store, s.dir)
	if err != nil {
		return 0, err
	}
	logger.Infow("modules ingested", "dir", s.dir, "count", n)
	return n, nil
}

// Router returns the loader routes. Reserved endpoints live under "/-/" so
// they cannot collide with module paths.
func (s *Source) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(api.CommonMiddleware()...)

	r.Get("/-/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/-/modules", s.listModules)
	r.Post("/-/reload", s.reload)
	r.Get("/*", s.getModule)
	return r
}

func (s *Source) authorized(r *http.Request) bool {
	if s.accessToken == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.accessToken)) == 1
}

// writeError reports err with the status attached to it, or 500.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), fnerrors.HTTPStatus(err))
}

func (s *Source) getModule(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, errInvalidToken)
		return
	}

	m, err := s.store.Get(r.Context(), module.NormalizePath(r.URL.Path))
	if errors.Is(err, ErrNotFound) {
		writeError(w, httperr.WithCode(err, http.StatusNotFound))
		return
	}
	if err != nil {
		logger.Errorw("failed to read module", "path", r.URL.Path, "error", err)
		writeError(w, errors.New(http.StatusText(http.StatusInternalServerError)))
		return
	}

	logger.Debugw("serving module", "path", m.Path, "version", r.URL.Query().Get("v"), "digest", m.Digest.String())
	w.Header().Set(module.DigestHeader, m.Digest.String())
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(m.Content)
}

func (s *Source) listModules(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, errInvalidToken)
		return
	}
	routes, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if routes == nil {
		routes = []Route{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(routes)
}

func (s *Source) reload(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, errInvalidToken)
		return
	}
	n, err := s.Reload(r.Context())
	if err != nil {
		logger.Warnw("reload rejected", "error", err)
		writeError(w, httperr.WithCode(err, http.StatusUnprocessableEntity))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"modules": n})
}
