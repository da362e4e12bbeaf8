// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package module

import (
	"net/url"
	"path"
	"strings"

	"github.com/stacklok/fnhive/pkg/versioncache"
)

// CacheBustSegment is the reserved final path segment that forces a new
// version token for the route it is appended to.
const CacheBustSegment = "___cacheBust___"

// Locator fully determines where a module is fetched from. Two locators with
// the same path and version are expected to resolve to the same content.
type Locator struct {
	Path        string
	BaseURL     string
	Version     versioncache.Token
	AccessToken string
}

// URL renders the fetch target: {baseURL}{path}?v={version}&token={accessToken}.
// The path is escaped so that reserved characters in a route stay part of it.
func (l Locator) URL() string {
	target := l.String()
	if l.AccessToken != "" {
		target += "&token=" + url.QueryEscape(l.AccessToken)
	}
	return target
}

// String is the locator without its access token, safe for logs.
func (l Locator) String() string {
	return l.base() + "?v=" + l.Version.String()
}

func (l Locator) base() string {
	escaped := (&url.URL{Path: l.Path}).EscapedPath()
	return strings.TrimRight(l.BaseURL, "/") + escaped
}

// NormalizePath cleans a route path and guarantees a leading slash.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// SplitCacheBust strips the reserved cache-bust segment from a route path.
// It returns the cleaned path and whether the segment was present.
func SplitCacheBust(p string) (string, bool) {
	p = NormalizePath(p)
	if path.Base(p) != CacheBustSegment {
		return p, false
	}
	return path.Dir(p), true
}
