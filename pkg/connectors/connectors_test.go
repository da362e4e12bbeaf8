// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package connectors

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/fnhive/pkg/adapter"
	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/handler"
)

func input(config map[string]any) adapter.FactoryInput {
	return adapter.FactoryInput{Adapter: "a", Connector: "c", Config: config, Adapters: adapter.NewGraph()}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := adapter.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Equal(t, []string{HTTP, Memory, Redis, SQLite}, reg.Names())
	assert.Error(t, Register(reg))
}

func TestMemory(t *testing.T) {
	t.Parallel()

	v, err := newMemory(context.Background(), input(map[string]any{"initial": map[string]any{"a": "1"}}))
	require.NoError(t, err)
	kv := v.(handler.KeyValue)

	ctx := context.Background()
	got, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", got)

	require.NoError(t, kv.Set(ctx, "b", "2"))
	require.NoError(t, kv.Delete(ctx, "a"))
	_, ok, _ = kv.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	v, err := newRedis(context.Background(), input(map[string]any{
		"address": mr.Addr(), "key_prefix": "fn:", "ttl": "1m",
	}))
	require.NoError(t, err)
	kv := v.(*RedisKV)
	t.Cleanup(func() { _ = kv.Close() })

	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "k", "v"))
	stored, err := mr.Get("fn:k")
	require.NoError(t, err)
	assert.Equal(t, "v", stored)
	assert.Greater(t, mr.TTL("fn:k").Seconds(), float64(0))

	got, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_ConnectionRetriesExhausted(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := newRedis(context.Background(), input(map[string]any{
		"address": addr, "retries": 2, "retry_delay": "1ms",
	}))
	require.Error(t, err)
	assert.True(t, fnerrors.IsConnection(err), "got %v", err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRedis_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := newRedis(context.Background(), input(map[string]any{}))
	assert.Error(t, err)
	_, err = newRedis(context.Background(), input(map[string]any{"address": "x", "ttl": "soon"}))
	assert.Error(t, err)
	_, err = newRedis(context.Background(), input(map[string]any{"address": "x", "retries": -1}))
	assert.Error(t, err)
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	v, err := newSQLite(context.Background(), input(map[string]any{
		"dsn": ":memory:",
		"init": []any{
			"CREATE TABLE notes (body TEXT)",
			"INSERT INTO notes VALUES ('hi')",
		},
	}))
	require.NoError(t, err)
	db := v.(*sql.DB)
	t.Cleanup(func() { _ = db.Close() })

	var body string
	require.NoError(t, db.QueryRow("SELECT body FROM notes").Scan(&body))
	assert.Equal(t, "hi", body)

	_, err = newSQLite(context.Background(), input(map[string]any{"dsn": ":memory:", "init": []any{"NOT SQL"}}))
	assert.Error(t, err)
}

func TestHTTP(t *testing.T) {
	t.Parallel()

	var healthHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/healthz":
			if healthHits.Add(1) < 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/api/items":
			assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"q": "` + r.URL.Query().Get("q") + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	v, err := newHTTP(context.Background(), input(map[string]any{
		"base_url": srv.URL + "/api", "token": "t0k", "health_path": "/healthz",
		"retry_delay": "1ms", "timeout": "5s",
	}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), healthHits.Load(), "the health path is resolved against the base URL")

	api := v.(handler.Fetcher)
	out, err := api.FetchJSON(context.Background(), "/items", url.Values{"q": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "x"}, out)
}

func TestHTTP_HealthNeverReady(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := newHTTP(context.Background(), input(map[string]any{
		"base_url": srv.URL, "health_path": "/", "retries": 1, "retry_delay": "1ms",
	}))
	assert.True(t, fnerrors.IsConnection(err), "got %v", err)
}

func TestHTTP_RejectedCredentialsAreNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := newHTTP(context.Background(), input(map[string]any{
		"base_url": srv.URL, "token": "stale", "health_path": "/", "retries": 5, "retry_delay": "1ms",
	}))
	require.Error(t, err)
	assert.True(t, fnerrors.IsConnection(err), "got %v", err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), hits.Load())
}

// A graph declared in YAML composes end to end with the builtin factories.
func TestComposeBuiltins(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	var spec adapter.GraphSpec
	require.NoError(t, yaml.Unmarshal([]byte(`
cache:
  local: {locator: "builtin:memory"}
  shared: {locator: "builtin:redis", config: {address: "`+mr.Addr()+`"}}
data:
  db: {locator: "builtin:sqlite", config: {dsn: ":memory:"}}
`), &spec))

	reg := adapter.NewRegistry()
	require.NoError(t, Register(reg))
	c := adapter.NewComposer(reg, nil)
	graph, err := c.Compose(context.Background(), &spec, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = adapter.Lookup[handler.KeyValue](graph, "cache", "shared")
	require.NoError(t, err)
	_, err = adapter.Lookup[handler.Querier](graph, "data", "db")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache", "data"}, graph.Names())
}
