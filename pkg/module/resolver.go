// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package module

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/logger"
	"github.com/stacklok/fnhive/pkg/versioncache"
	"github.com/stacklok/fnhive/pkg/versions"
)

const (
	// DigestHeader carries the content digest of a served module.
	DigestHeader = "X-Fnhive-Digest"

	// MaxModuleSize bounds the size of a fetched module document.
	MaxModuleSize = 1024 * 1024
)

// HTTPClient is the subset of *http.Client the resolver needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options override the resolver defaults for a single resolution.
type Options struct {
	BaseURL     string
	AccessToken string
	// CacheBust forces a new version token even without the reserved path segment.
	CacheBust bool
}

// Resolver turns route paths into verified modules.
type Resolver struct {
	versions      *versioncache.Cache
	client        HTTPClient
	baseURL       string
	accessToken   string
	requireDigest bool

	flight singleflight.Group

	mu sync.RWMutex
	// artifacts holds the last module fetched per path, keyed by its exact URL.
	artifacts map[string]*Module
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient sets the client used for module fetches.
func WithHTTPClient(c HTTPClient) ResolverOption {
	return func(r *Resolver) {
		r.client = c
	}
}

// WithAccessToken sets the default access token sent with every fetch.
func WithAccessToken(token string) ResolverOption {
	return func(r *Resolver) {
		r.accessToken = token
	}
}

// WithRequireDigest rejects modules served without a content digest.
func WithRequireDigest(require bool) ResolverOption {
	return func(r *Resolver) {
		r.requireDigest = require
	}
}

// NewResolver creates a resolver that fetches from baseURL and draws version
// tokens from the given cache.
func NewResolver(cache *versioncache.Cache, baseURL string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		versions:  cache,
		client:    http.DefaultClient,
		baseURL:   baseURL,
		artifacts: make(map[string]*Module),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves a route path with the resolver defaults. A trailing
// cache-bust segment forces a new version token.
func (r *Resolver) Resolve(ctx context.Context, path string) (*Module, error) {
	return r.ResolveWith(ctx, path, Options{})
}

// ResolveWith resolves a route path. Failures are returned as resolution
// errors and are never retried.
func (r *Resolver) ResolveWith(ctx context.Context, path string, opts Options) (*Module, error) {
	clean, bust := SplitCacheBust(path)
	bust = bust || opts.CacheBust

	var token versioncache.Token
	if bust {
		token = r.versions.Bust(clean)
		logger.Debugw("cache bust", "path", clean, "version", token.String())
	} else {
		token = r.versions.Resolve(clean)
	}

	loc := Locator{
		Path:        clean,
		BaseURL:     firstNonEmpty(opts.BaseURL, r.baseURL),
		Version:     token,
		AccessToken: firstNonEmpty(opts.AccessToken, r.accessToken),
	}
	target := loc.URL()

	if mod, ok := r.cached(clean, target); ok {
		resolutions.WithLabelValues(resultHit).Inc()
		return mod, nil
	}

	v, err, _ := r.flight.Do(target, func() (any, error) {
		if mod, ok := r.cached(clean, target); ok {
			return mod, nil
		}
		mod, err := r.fetch(ctx, loc, target)
		if err != nil {
			return nil, err
		}
		r.store(clean, mod)
		return mod, nil
	})
	if err != nil {
		resolutions.WithLabelValues(resultError).Inc()
		return nil, err
	}
	resolutions.WithLabelValues(resultMiss).Inc()
	return v.(*Module), nil
}

func (r *Resolver) cached(path, target string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.artifacts[path]
	if !ok || mod.Locator.URL() != target {
		return nil, false
	}
	return mod, true
}

func (r *Resolver) store(path string, mod *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.artifacts[path]; ok && cur.Locator.Version > mod.Locator.Version {
		// a concurrent bust already stored a newer version
		return
	}
	r.artifacts[path] = mod
}

func (r *Resolver) fetch(ctx context.Context, loc Locator, target string) (*Module, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fnerrors.NewResolutionError(fmt.Sprintf("invalid locator for %s", loc.Path), err)
	}
	req.Header.Set("User-Agent", versions.UserAgent())
	req.Header.Set("Accept", "application/yaml, application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fnerrors.NewResolutionError(fmt.Sprintf("failed to fetch %s", loc), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxModuleSize+1))
	if err != nil {
		return nil, fnerrors.NewResolutionError(fmt.Sprintf("failed to read %s", loc), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fnerrors.NewResolutionError(
			fmt.Sprintf("module source returned status %d for %s", resp.StatusCode, loc), nil)
	}
	if len(body) > MaxModuleSize {
		return nil, fnerrors.NewResolutionError(fmt.Sprintf("module %s exceeds %d bytes", loc, MaxModuleSize), nil)
	}

	dgst, err := r.verify(resp.Header.Get(DigestHeader), body)
	if err != nil {
		return nil, fnerrors.NewResolutionError(fmt.Sprintf("untrusted module %s", loc), err)
	}

	manifest, err := DecodeManifest(body)
	if err != nil {
		return nil, fnerrors.NewResolutionError(fmt.Sprintf("malformed module %s", loc), err)
	}

	logger.Debugw("module fetched", "path", loc.Path, "version", loc.Version.String(), "digest", dgst.String())
	return &Module{Locator: loc, Digest: dgst, Manifest: manifest}, nil
}

// verify checks the body against the announced digest and returns the
// digest the module is identified by.
func (r *Resolver) verify(announced string, body []byte) (digest.Digest, error) {
	if announced == "" {
		if r.requireDigest {
			return "", fmt.Errorf("missing %s header", DigestHeader)
		}
		return digest.FromBytes(body), nil
	}

	want, err := digest.Parse(announced)
	if err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", announced, err)
	}
	if !want.Algorithm().Available() {
		return "", fmt.Errorf("unsupported digest algorithm %s", want.Algorithm())
	}
	verifier := want.Verifier()
	if _, err := verifier.Write(body); err != nil {
		return "", err
	}
	if !verifier.Verified() {
		return "", fmt.Errorf("content does not match digest %s", want)
	}
	return want, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
