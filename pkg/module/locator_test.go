// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package module

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocator_URL(t *testing.T) {
	t.Parallel()

	loc := Locator{Path: "/greet", BaseURL: "http://127.0.0.1:4480/", Version: 42, AccessToken: "abc"}
	assert.Equal(t, "http://127.0.0.1:4480/greet?v=42&token=abc", loc.URL())
	assert.Equal(t, "http://127.0.0.1:4480/greet?v=42", loc.String(), "the access token never appears in String")

	loc.AccessToken = ""
	assert.Equal(t, "http://127.0.0.1:4480/greet?v=42", loc.URL())
}

func TestLocator_URLEscapesPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/greet?x", "http://loader/greet%3Fx?v=7&token=t%26k"},
		{"/greet#frag", "http://loader/greet%23frag?v=7&token=t%26k"},
		{"/hello world", "http://loader/hello%20world?v=7&token=t%26k"},
		{"/a/b", "http://loader/a/b?v=7&token=t%26k"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			loc := Locator{Path: tt.path, BaseURL: "http://loader", Version: 7, AccessToken: "t&k"}
			assert.Equal(t, tt.want, loc.URL())

			u, err := url.Parse(loc.URL())
			require.NoError(t, err)
			assert.Equal(t, tt.path, u.Path, "the route survives a round trip through the URL")
			assert.Equal(t, "7", u.Query().Get("v"))
			assert.Equal(t, "t&k", u.Query().Get("token"))
			assert.Empty(t, u.Fragment)
		})
	}
}

func TestSplitCacheBust(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantPath string
		wantBust bool
	}{
		{"/widget", "/widget", false},
		{"/widget/", "/widget", false},
		{"widget", "/widget", false},
		{"/widget/" + CacheBustSegment, "/widget", true},
		{"/a/b/" + CacheBustSegment, "/a/b", true},
		{"/" + CacheBustSegment, "/", true},
		{"/" + CacheBustSegment + "/widget", "/" + CacheBustSegment + "/widget", false},
		{"", "/", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			p, bust := SplitCacheBust(tt.in)
			assert.Equal(t, tt.wantPath, p)
			assert.Equal(t, tt.wantBust, bust)
		})
	}
}

func TestDecodeManifest(t *testing.T) {
	t.Parallel()

	m, err := DecodeManifest([]byte(`{"factory": "redis", "config": {"addr": "localhost:6379"}}`))
	assert.NoError(t, err)
	assert.Equal(t, "redis", m.Factory)
	assert.Equal(t, "localhost:6379", m.Config["addr"])

	_, err = DecodeManifest([]byte(`name: nothing-exported`))
	assert.Error(t, err, "a manifest needs exports or a factory")

	_, err = DecodeManifest([]byte("exports:\n  GET:\n    plugin: a\n    expr: b\n"))
	assert.Error(t, err, "an entry is either a plugin or an expression")
}
