// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/fnhive/pkg/adapter"
	"github.com/stacklok/fnhive/pkg/auth"
	"github.com/stacklok/fnhive/pkg/config"
	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/loader"
)

const accessToken = "module-token"

var testModules = map[string]string{
	"greet.yaml": `exports:
  default:
    expr: '"Hello " + params.name'
`,
	"kv/get.yaml": `exports:
  GET:
    plugin: kv
    config: {adapter: storage, connector: cache}
`,
	"whoami.yaml": `exports:
  GET:
    expr: 'has(identity.subject) ? identity.subject : "anonymous"'
`,
	"connectors/cache.yaml": `factory: memory
config:
  initial:
    greeting: hi
`,
}

// moduleSource serves testModules the way a loader process does.
func moduleSource(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range testModules {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	}

	store, err := loader.OpenStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	source := loader.NewSource(store, dir, accessToken)
	_, err = source.Reload(context.Background())
	require.NoError(t, err)

	ts := httptest.NewServer(source.Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	cfg, err := config.Parse([]byte(`
server:
  listen_address: 127.0.0.1:0
  env:
    STAGE: test
graphs:
  default:
    storage:
      cache:
        locator: /connectors/cache
`))
	require.NoError(t, err)
	cfg.Modules.BaseURL = baseURL
	cfg.Modules.AccessToken = accessToken
	cfg.Modules.RequireDigest = true
	require.NoError(t, cfg.ApplyDefaults())
	require.NoError(t, cfg.Validate())
	return cfg
}

func get(t *testing.T, h http.Handler, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer(t *testing.T) {
	t.Parallel()

	srv, err := New(context.Background(), testConfig(t, moduleSource(t)))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, srv.Close()) })

	router := srv.Router()

	rec := get(t, router, "/greet?name=Ada")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Hello Ada", rec.Body.String())

	rec = get(t, router, "/kv/get?key=greeting")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"key":"greeting","found":true,"value":"hi"}`, rec.Body.String())

	rec = get(t, router, "/missing")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "resolution")

	rec = get(t, router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status   string              `json:"status"`
		Adapters map[string][]string `json:"adapters"`
		Routes   int                 `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, map[string][]string{"storage": {"cache"}}, health.Adapters)
	assert.Equal(t, 4, health.Routes, "the connector module plus three dispatched paths")

	rec = get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fnhive_dispatch_requests_total")
}

func TestServerAuth(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("lovelace"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := testConfig(t, moduleSource(t))
	cfg.Auth = auth.Config{
		Strategy:    auth.StrategyBasic,
		Users:       map[string]string{"ada": string(hash)},
		PublicPaths: []string{`^/greet$`},
	}

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	router := srv.Router()

	withCreds := func(r *http.Request) { r.SetBasicAuth("ada", "lovelace") }

	assert.Equal(t, http.StatusOK, get(t, router, "/greet?name=x").Code, "public path")
	assert.Equal(t, http.StatusUnauthorized, get(t, router, "/kv/get?key=greeting").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/kv/get?key=greeting", withCreds).Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code, "health is never behind auth")

	rec := get(t, router, "/whoami", withCreds)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada", rec.Body.String(), "handlers see the authenticated caller")
}

func TestNewCompositionFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, moduleSource(t))
	cfg.Graphs["default"].Adapters = append(cfg.Graphs["default"].Adapters, adapter.AdapterSpec{
		Name:       "broken",
		Connectors: []adapter.ConnectorSpec{{Name: "x", Locator: "builtin:nope"}},
	})

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, fnerrors.IsComposition(err))
}

type recordingNotifier struct {
	mu      sync.Mutex
	reasons []string
	readyCh chan struct{}
}

func (n *recordingNotifier) Ready() error {
	n.readyCh <- struct{}{}
	return nil
}

func (n *recordingNotifier) Failed(reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
	return nil
}

func TestRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, moduleSource(t))
	notifier := &recordingNotifier{readyCh: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, notifier) }()

	select {
	case <-notifier.readyCh:
	case err := <-done:
		t.Fatalf("server exited before ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server never became ready")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, notifier.reasons)
}

func TestRunReportsFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, moduleSource(t))
	cfg.Graphs["default"].Adapters[0].Connectors[0].Locator = "/connectors/missing"
	notifier := &recordingNotifier{readyCh: make(chan struct{}, 1)}

	err := Run(context.Background(), cfg, notifier)
	require.Error(t, err)
	require.Len(t, notifier.reasons, 1)
	assert.Contains(t, notifier.reasons[0], "composition")
	assert.Empty(t, notifier.readyCh)
}
