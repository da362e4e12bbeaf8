// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package versioncache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozenClock() func() time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestResolve_IsStable(t *testing.T) {
	t.Parallel()

	c := New()
	first := c.Resolve("/greet")
	second := c.Resolve("/greet")

	assert.Equal(t, first, second)
	assert.Equal(t, first.String(), second.String())
	assert.Equal(t, 1, c.Len())
}

func TestBust_IsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	// A frozen clock forces the cache to order tokens on its own.
	c := New(WithClock(frozenClock()))

	prev := c.Resolve("/widget")
	for i := 0; i < 50; i++ {
		next := c.Bust("/widget")
		require.Greater(t, next, prev)
		assert.Equal(t, next, c.Resolve("/widget"), "resolve must observe the busted token")
		prev = next
	}
}

func TestBust_ClockGoingBackwards(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithClock(func() time.Time {
		now = now.Add(-time.Second)
		return now
	}))

	a := c.Resolve("/a")
	b := c.Bust("/a")
	assert.Greater(t, b, a)
}

func TestBust_UnknownPathCreatesToken(t *testing.T) {
	t.Parallel()

	c := New()
	assert.Equal(t, 0, c.Len())

	tok := c.Bust("/new")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, tok, c.Resolve("/new"), "the busted token is the live one")
}

func TestPathsAreIndependent(t *testing.T) {
	t.Parallel()

	c := New()
	a := c.Resolve("/a")
	b := c.Resolve("/b")
	c.Bust("/b")

	assert.Equal(t, a, c.Resolve("/a"))
	assert.NotEqual(t, b, c.Resolve("/b"))
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New()
	var wg sync.WaitGroup
	tokens := make([]Token, 64)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = c.Resolve("/shared")
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
}
