// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import "errors"

var (
	// ErrNoCredentials is returned when a protected request carries no credentials.
	ErrNoCredentials = errors.New("no credentials provided")
	// ErrInvalidCredentials is returned when basic credentials do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned when a bearer token cannot be verified.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when the token has no or a past expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidIssuer is returned when the 'iss' claim does not match.
	ErrInvalidIssuer = errors.New("invalid issuer")
	// ErrInvalidAudience is returned when the 'aud' claim does not match.
	ErrInvalidAudience = errors.New("invalid audience")
	// ErrMissingKeySource is returned when a bearer strategy has neither secret nor JWKS URL.
	ErrMissingKeySource = errors.New("either a secret or a JWKS URL must be provided")
	// ErrPolicyDenied is returned when the claims policy rejects an identity.
	ErrPolicyDenied = errors.New("denied by claims policy")
)
