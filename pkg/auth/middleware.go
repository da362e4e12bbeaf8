// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/logger"
)

const defaultRealm = "fnhive"

// StrategyNone disables authentication.
const StrategyNone = "none"

// Strategy authenticates a request. Failures are UnauthorizedErrors.
type Strategy interface {
	Name() string
	Authenticate(r *http.Request) (*Identity, error)
	// Challenge returns the WWW-Authenticate value for a failed attempt.
	Challenge(err error) string
}

// Config selects and configures a strategy.
type Config struct {
	// Strategy is "none", "basic" or "bearer". Empty means "none".
	Strategy string `mapstructure:"strategy" yaml:"strategy"`

	// Realm is advertised by the basic strategy.
	Realm string `mapstructure:"realm" yaml:"realm"`
	// Users maps user names to bcrypt hashes for the basic strategy.
	Users map[string]string `mapstructure:"users" yaml:"users"`

	Bearer BearerConfig `mapstructure:"bearer" yaml:"bearer"`

	// PublicPaths skip authentication unless also matched by PrivatePaths.
	PublicPaths  []string `mapstructure:"public_paths" yaml:"public_paths"`
	PrivatePaths []string `mapstructure:"private_paths" yaml:"private_paths"`

	// Policy is an optional CEL expression over the identity's claims.
	Policy string `mapstructure:"policy" yaml:"policy"`
}

// Authenticator ties a strategy to path rules and an optional policy.
type Authenticator struct {
	strategy Strategy
	paths    *PathMatcher
	policy   *Policy
}

// NewAuthenticator creates an authenticator. paths and policy may be nil.
func NewAuthenticator(strategy Strategy, paths *PathMatcher, policy *Policy) *Authenticator {
	return &Authenticator{strategy: strategy, paths: paths, policy: policy}
}

// New builds an authenticator from config. It returns nil when
// authentication is disabled.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	var strategy Strategy
	switch strings.ToLower(cfg.Strategy) {
	case "", StrategyNone:
		return nil, nil
	case StrategyBasic:
		s, err := NewBasicStrategy(cfg.Realm, cfg.Users)
		if err != nil {
			return nil, err
		}
		strategy = s
	case StrategyBearer:
		s, err := NewBearerStrategy(ctx, cfg.Bearer)
		if err != nil {
			return nil, err
		}
		strategy = s
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", cfg.Strategy)
	}

	paths, err := NewPathMatcher(cfg.PublicPaths, cfg.PrivatePaths)
	if err != nil {
		return nil, err
	}

	var policy *Policy
	if cfg.Policy != "" {
		if policy, err = NewPolicy(cfg.Policy); err != nil {
			return nil, err
		}
	}
	return NewAuthenticator(strategy, paths, policy), nil
}

// Authenticate returns the identity for r, or nil when the path is public.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	if !a.paths.RequiresAuth(r.URL.Path) {
		return nil, nil
	}

	identity, err := a.strategy.Authenticate(r)
	if err != nil {
		return nil, err
	}

	allowed, err := a.policy.Allow(identity)
	if err != nil {
		return nil, fnerrors.NewUnauthorizedError("claims policy failed", err)
	}
	if !allowed {
		return nil, fnerrors.NewUnauthorizedError("access denied", ErrPolicyDenied)
	}
	return identity, nil
}

// Middleware rejects unauthenticated requests with 401 before they reach
// next. Authenticated identities are stored in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		if err != nil {
			logger.Debugw("request rejected", "path", r.URL.Path, "strategy", a.strategy.Name(), "error", err)
			w.Header().Set("WWW-Authenticate", a.strategy.Challenge(err))
			http.Error(w, err.Error(), fnerrors.HTTPStatus(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// escapeQuotes escapes quotes for use in a quoted header parameter.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
