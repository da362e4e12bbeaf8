// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package versioncache maps route paths to the version token used when the
// route's module is fetched.
//
// A Cache is owned by exactly one process and passed explicitly to the
// components that need it. Tokens are derived from the wall clock but are only
// guaranteed to be strictly increasing, which is all callers may rely on.
// There is no cross-process synchronization: a bust in one process is not
// seen by another.
package versioncache

import (
	"strconv"
	"sync"
	"time"
)

// Token is an opaque, strictly ordered version value.
type Token uint64

// String renders the token the way it appears in module locators.
func (t Token) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// Cache holds the live token for every route path resolved so far.
type Cache struct {
	mu     sync.Mutex
	tokens map[string]Token
	last   Token
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the wall clock used to derive tokens.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the live token for path, creating one if the path has not
// been seen before.
func (c *Cache) Resolve(path string) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok, ok := c.tokens[path]; ok {
		return tok
	}
	tok := c.nextLocked()
	c.tokens[path] = tok
	return tok
}

// Bust replaces the token for path with a new one that is strictly greater
// than any token previously issued for it.
func (c *Cache) Bust(path string) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok := c.nextLocked()
	c.tokens[path] = tok
	return tok
}

// Len returns the number of paths with a live token.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

// nextLocked issues a token above every token handed out so far, so a clock
// that stalls or steps backwards cannot break ordering.
func (c *Cache) nextLocked() Token {
	tok := Token(c.now().UnixNano()) // #nosec G115 -- wall clock is past the epoch
	if tok <= c.last {
		tok = c.last + 1
	}
	c.last = tok
	return tok
}
