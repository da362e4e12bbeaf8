// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth authenticates requests before they reach the dispatcher.
//
// Two strategies are supported: basic credentials checked against bcrypt
// hashes, and bearer tokens (HMAC-signed or verified against a JWKS). A
// [PathMatcher] decides which paths need credentials at all.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
)

// Identity is an authenticated principal.
type Identity struct {
	// Subject is the user name for basic credentials or the 'sub' claim.
	Subject string

	// Strategy names the strategy that produced the identity.
	Strategy string

	// Claims holds the token claims. Basic identities carry only "sub".
	Claims map[string]any

	// Token is the raw bearer token. It is redacted in String and MarshalJSON.
	Token string
}

// String returns a representation safe for logs.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{Subject:%q, Strategy:%q}", i.Subject, i.Strategy)
}

// MarshalJSON redacts the token.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type safeIdentity struct {
		Subject  string         `json:"subject"`
		Strategy string         `json:"strategy"`
		Claims   map[string]any `json:"claims"`
		Token    string         `json:"token"`
	}

	token := i.Token
	if token != "" {
		token = "REDACTED"
	}
	return json.Marshal(&safeIdentity{
		Subject:  i.Subject,
		Strategy: i.Strategy,
		Claims:   i.Claims,
		Token:    token,
	})
}

// IdentityContextKey is the key used to store Identity in the request context.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context. A nil identity leaves ctx unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves an Identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}
