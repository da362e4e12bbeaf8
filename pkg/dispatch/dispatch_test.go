// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fnhive/pkg/adapter"
	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/handler"
	"github.com/stacklok/fnhive/pkg/module"
	"github.com/stacklok/fnhive/pkg/versioncache"
)

// source serves manifests by path and lets tests swap them.
type source struct {
	mu      sync.Mutex
	modules map[string]string
}

func (s *source) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[path] = body
}

func (s *source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, ok := s.modules[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set(module.DigestHeader, digest.FromString(body).String())
	_, _ = w.Write([]byte(body))
}

func newDispatcher(t *testing.T, modules map[string]string, opts ...Option) (*Dispatcher, *source) {
	t.Helper()
	src := &source{modules: modules}
	srv := httptest.NewServer(src)
	t.Cleanup(srv.Close)

	resolver := module.NewResolver(versioncache.New(), srv.URL, module.WithRequireDigest(true))
	return New(resolver, adapter.NewGraph(), opts...), src
}

func do(d *Dispatcher, method, target, contentType, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

const greet = `
name: greet
exports:
  GET:
    expr: '"Hello " + params.name'
  default:
    plugin: echo
`

func TestDispatch_GreetScenario(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, map[string]string{"/greet": greet})
	rec := do(d, http.MethodGet, "/greet?name=Ada", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello Ada", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestDispatch_MethodSelection(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, map[string]string{"/greet": greet})

	rec := do(d, http.MethodGet, "/greet?name=Ada", "", "")
	assert.Equal(t, "Hello Ada", rec.Body.String(), "GET runs the named export")

	rec = do(d, http.MethodPost, "/greet?name=Ada", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var echoed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &echoed))
	assert.Equal(t, module.DefaultExport, echoed["export"], "POST falls back to the default export")
	assert.Equal(t, http.MethodPost, echoed["method"])
	assert.Equal(t, "/greet", echoed["path"])
}

func TestDispatch_ReservedCharactersStayInRoute(t *testing.T) {
	t.Parallel()

	d, src := newDispatcher(t, map[string]string{"/greet": greet})

	for _, target := range []string{"/greet%3Fx?name=Ada", "/greet%23x?name=Ada"} {
		rec := do(d, http.MethodGet, target, "", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "resolution", target)
	}

	src.set("/greet?x", "exports: {GET: {expr: '\"other \" + params.name'}}")
	rec := do(d, http.MethodGet, "/greet%3Fx?name=Ada", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "other Ada", rec.Body.String())
}

func TestDispatch_MissingExport(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, map[string]string{"/ro": "exports: {GET: {plugin: echo}}"})

	rec := do(d, http.MethodDelete, "/ro", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no export for DELETE")
}

func TestParams_BodyWinsOverQuery(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/x?a=1&c=q&c=ignored", strings.NewReader(`{"a": 2, "b": 3}`))
	req.Header.Set("Content-Type", "application/json")

	params, err := Params(req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(2), "b": int64(3), "c": "q"}, params)
}

func TestParams_Bodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        map[string]any
		wantErr     bool
	}{
		{name: "form", contentType: "application/x-www-form-urlencoded", body: "a=2&b=x", want: map[string]any{"a": "2", "b": "x"}},
		{name: "json without content type", body: `{"n": 1.5, "list": [1]}`, want: map[string]any{"a": "1", "n": 1.5, "list": []any{int64(1)}}},
		{name: "blank body", contentType: "application/json", body: "  ", want: map[string]any{"a": "1"}},
		{name: "json array", contentType: "application/json", body: `[1, 2]`, wantErr: true},
		{name: "json null", contentType: "application/json", body: `null`, wantErr: true},
		{name: "not json", contentType: "text/plain", body: `hello`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/x?a=1", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			params, err := Params(req)
			if tt.wantErr {
				assert.True(t, fnerrors.IsDispatch(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, params)
		})
	}
}

func TestParams_BodyTooLarge(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":"`+strings.Repeat("x", MaxBodySize)+`"}`))
	_, err := Params(req)
	assert.True(t, fnerrors.IsDispatch(err))
}

func TestDispatch_CacheBustScenario(t *testing.T) {
	t.Parallel()

	d, src := newDispatcher(t, map[string]string{"/widget": `exports: {default: {expr: '"v1"'}}`})

	assert.Equal(t, "v1", do(d, http.MethodGet, "/widget", "", "").Body.String())

	src.set("/widget", `exports: {default: {expr: '"v2"'}}`)
	assert.Equal(t, "v1", do(d, http.MethodGet, "/widget", "", "").Body.String(), "same token serves the cached module")

	assert.Equal(t, "v2", do(d, http.MethodGet, "/widget/"+module.CacheBustSegment, "", "").Body.String())
	assert.Equal(t, "v2", do(d, http.MethodGet, "/widget", "", "").Body.String(), "the busted token is used afterwards")
}

func TestDispatch_Errors(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, map[string]string{
		"/broken":  `exports: {default: {plugin: nope}}`,
		"/fails":   `exports: {default: {expr: 'params.missing'}}`,
		"/invalid": `exports: {default: {plugin: kv, config: {adapter: a, connector: c}}}`,
	})

	tests := []struct {
		name   string
		target string
		body   string
		want   string
	}{
		{name: "unknown module", target: "/nowhere", want: "404"},
		{name: "unbuildable export", target: "/broken", want: `unknown plugin "nope"`},
		{name: "unbuildable export names the entry", target: "/broken", want: "export default (plugin:nope) cannot be built"},
		{name: "handler error", target: "/fails", want: "handler /fails failed"},
		{name: "typed handler error", target: "/invalid", want: "connector a.c not found"},
		{name: "bad body", target: "/fails", body: "[]", want: "JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(d, http.MethodPost, tt.target, "application/json", tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestDispatch_ResultEncoding(t *testing.T) {
	t.Parallel()

	plugins := handler.NewRegistry()
	plugins.Register("bytes", func(map[string]any) (handler.Handler, error) {
		return handler.HandlerFunc(func(context.Context, *handler.Request) (any, error) {
			return []byte{0x01, 0x02}, nil
		}), nil
	})
	plugins.Register("nothing", func(map[string]any) (handler.Handler, error) {
		return handler.HandlerFunc(func(context.Context, *handler.Request) (any, error) {
			return nil, nil
		}), nil
	})

	d, _ := newDispatcher(t, map[string]string{
		"/bytes":   `exports: {default: {plugin: bytes}}`,
		"/nothing": `exports: {default: {plugin: nothing}}`,
		"/json":    `exports: {default: {expr: '{"region": env.REGION}'}}`,
	}, WithPlugins(plugins), WithEnv(map[string]string{"REGION": "eu"}))

	rec := do(d, http.MethodGet, "/bytes", "", "")
	assert.Equal(t, []byte{0x01, 0x02}, rec.Body.Bytes())

	rec = do(d, http.MethodGet, "/nothing", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(d, http.MethodGet, "/json", "", "")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"region": "eu"}`, rec.Body.String())
}

func TestMetrics_MethodLabelIsBounded(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.MethodGet, methodLabel(http.MethodGet))
	assert.Equal(t, http.MethodDelete, methodLabel(http.MethodDelete))
	assert.Equal(t, "other", methodLabel("BREW"))
	assert.Equal(t, "other", methodLabel("get"))

	d, _ := newDispatcher(t, map[string]string{"/greet": greet})
	before := testutil.ToFloat64(requests.WithLabelValues("other", outcomeOK))
	rec := do(d, "PROPFIND-12345", "/greet", "", "")
	require.Equal(t, http.StatusOK, rec.Code, "unknown methods fall back to the default export")
	assert.Equal(t, before+1, testutil.ToFloat64(requests.WithLabelValues("other", outcomeOK)))
}
