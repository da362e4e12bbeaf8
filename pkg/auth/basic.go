// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	fnerrors "github.com/stacklok/fnhive/pkg/errors"
)

// StrategyBasic is the name of the basic credentials strategy.
const StrategyBasic = "basic"

// BasicStrategy validates a user/password pair from the Authorization header
// against bcrypt hashes.
type BasicStrategy struct {
	realm  string
	hashes map[string][]byte
}

// NewBasicStrategy creates a basic strategy. users maps user names to bcrypt
// hashes; plaintext passwords are rejected.
func NewBasicStrategy(realm string, users map[string]string) (*BasicStrategy, error) {
	if len(users) == 0 {
		return nil, errors.New("basic auth needs at least one user")
	}
	hashes := make(map[string][]byte, len(users))
	for user, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("password for user %q is not a bcrypt hash: %w", user, err)
		}
		hashes[user] = []byte(hash)
	}
	if realm == "" {
		realm = defaultRealm
	}
	return &BasicStrategy{realm: realm, hashes: hashes}, nil
}

// Name implements Strategy.
func (*BasicStrategy) Name() string { return StrategyBasic }

// Challenge implements Strategy.
func (s *BasicStrategy) Challenge(error) string {
	return fmt.Sprintf(`Basic realm="%s", charset="UTF-8"`, escapeQuotes(s.realm))
}

// Authenticate implements Strategy.
func (s *BasicStrategy) Authenticate(r *http.Request) (*Identity, error) {
	user, password, ok := r.BasicAuth()
	if !ok {
		return nil, fnerrors.NewUnauthorizedError("basic credentials required", ErrNoCredentials)
	}

	hash, known := s.hashes[user]
	if !known {
		// keeps unknown users as slow as wrong passwords
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, fnerrors.NewUnauthorizedError("invalid credentials", ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, fnerrors.NewUnauthorizedError("invalid credentials", ErrInvalidCredentials)
	}

	return &Identity{
		Subject:  user,
		Strategy: StrategyBasic,
		Claims:   map[string]any{"sub": user},
	}, nil
}

var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("fnhive"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()
