// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"regexp"
)

// PathMatcher decides whether a request path needs credentials. A path
// matching a public pattern skips authentication unless it also matches a
// private pattern. Paths matching neither are protected.
type PathMatcher struct {
	public  []*regexp.Regexp
	private []*regexp.Regexp
}

// NewPathMatcher compiles the given patterns. Patterns are unanchored
// regular expressions; anchor them explicitly when needed.
func NewPathMatcher(public, private []string) (*PathMatcher, error) {
	pub, err := compilePatterns(public)
	if err != nil {
		return nil, fmt.Errorf("invalid public path: %w", err)
	}
	priv, err := compilePatterns(private)
	if err != nil {
		return nil, fmt.Errorf("invalid private path: %w", err)
	}
	return &PathMatcher{public: pub, private: priv}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// RequiresAuth reports whether path must be authenticated. A nil matcher
// protects everything.
func (m *PathMatcher) RequiresAuth(path string) bool {
	if m == nil {
		return true
	}
	if matchAny(m.private, path) {
		return true
	}
	return !matchAny(m.public, path)
}

func matchAny(patterns []*regexp.Regexp, path string) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
