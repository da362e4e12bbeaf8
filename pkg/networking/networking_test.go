// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_SetsHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"n": 1}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewHTTPClientBuilder().WithBearerToken("abc").WithHeader("X-Extra", "1").Build()
	require.NoError(t, err)

	out, err := FetchJSON[map[string]any](context.Background(), client, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, out)
	assert.Equal(t, "Bearer abc", got.Get("Authorization"))
	assert.Equal(t, "1", got.Get("X-Extra"))
	assert.Contains(t, got.Get("User-Agent"), "fnhive/")
	assert.Equal(t, ContentTypeJSON, got.Get("Accept"))
}

func TestBuild_RequireHTTPS(t *testing.T) {
	t.Parallel()

	client, err := NewHTTPClientBuilder().WithRequireHTTPS(true).Build()
	require.NoError(t, err)
	_, err = client.Get("http://127.0.0.1:1/") //nolint:noctx
	assert.ErrorContains(t, err, "not HTTPS")
}

func TestBuild_BadCABundle(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPClientBuilder().WithCABundle("/nonexistent/ca.pem").Build()
	assert.Error(t, err)
}

func TestFetchJSON_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.Error(w, "nope", http.StatusNotFound)
		case "/text":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("hi"))
		default:
			w.Header().Set("Content-Type", ContentTypeJSON)
			_, _ = w.Write([]byte("{"))
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	_, err := FetchJSON[any](ctx, srv.Client(), srv.URL+"/missing")
	assert.True(t, IsHTTPError(err, http.StatusNotFound))
	assert.True(t, IsHTTPError(err, 0))

	_, err = FetchJSON[any](ctx, srv.Client(), srv.URL+"/text")
	assert.ErrorContains(t, err, "unexpected content type")
	assert.False(t, IsHTTPError(err, 0))

	_, err = FetchJSON[any](ctx, srv.Client(), srv.URL+"/broken")
	assert.ErrorContains(t, err, "failed to parse")
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	got, err := JoinURL("http://api.local/v1/", "/items", url.Values{"q": {"a b"}})
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/v1/items?q=a+b", got)

	_, err = JoinURL("://bad", "/x", nil)
	assert.Error(t, err)
}

func TestFreeLocalAddress(t *testing.T) {
	t.Parallel()

	addr, err := FreeLocalAddress()
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port)
}
