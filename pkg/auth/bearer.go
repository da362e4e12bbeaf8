// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/networking"
)

// StrategyBearer is the name of the bearer token strategy.
const StrategyBearer = "bearer"

const jwksRegistrationTimeout = 5 * time.Second

// BearerConfig configures a BearerStrategy. Exactly one of Secret and JWKSURL
// must be set.
type BearerConfig struct {
	// Secret verifies HMAC-signed tokens (HS256/384/512).
	Secret string `mapstructure:"secret" yaml:"secret"`
	// JWKSURL verifies RSA/ECDSA-signed tokens against a remote key set.
	JWKSURL string `mapstructure:"jwks_url" yaml:"jwks_url"`
	// CACertPath is an optional CA bundle for fetching the JWKS.
	CACertPath string `mapstructure:"ca_cert_path" yaml:"ca_cert_path"`
	// Issuer, when set, must match the 'iss' claim.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`
	// Audience, when set, must be one of the 'aud' claim values.
	Audience string `mapstructure:"audience" yaml:"audience"`
}

// BearerStrategy validates JWTs from the Authorization header.
type BearerStrategy struct {
	issuer   string
	audience string
	secret   []byte

	jwksURL    string
	jwksClient *jwk.Cache

	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error
}

// NewBearerStrategy creates a bearer strategy. The JWKS is registered lazily
// on first use so startup does not block on the key server.
func NewBearerStrategy(ctx context.Context, cfg BearerConfig) (*BearerStrategy, error) {
	switch {
	case cfg.Secret != "" && cfg.JWKSURL != "":
		return nil, errors.New("bearer auth takes either a secret or a JWKS URL, not both")
	case cfg.Secret == "" && cfg.JWKSURL == "":
		return nil, ErrMissingKeySource
	}

	s := &BearerStrategy{issuer: cfg.Issuer, audience: cfg.Audience}
	if cfg.Secret != "" {
		s.secret = []byte(cfg.Secret)
		return s, nil
	}

	httpClient, err := networking.NewHTTPClientBuilder().
		WithCABundle(cfg.CACertPath).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	cache, err := jwk.NewCache(ctx, httprc.NewClient(httprc.WithHTTPClient(httpClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}
	s.jwksURL = cfg.JWKSURL
	s.jwksClient = cache
	return s, nil
}

// Name implements Strategy.
func (*BearerStrategy) Name() string { return StrategyBearer }

// Challenge implements Strategy.
func (s *BearerStrategy) Challenge(err error) string {
	var parts []string
	if s.issuer != "" {
		parts = append(parts, fmt.Sprintf(`realm="%s"`, escapeQuotes(s.issuer)))
	}
	if err != nil && !errors.Is(err, ErrNoCredentials) {
		parts = append(parts, `error="invalid_token"`)
	}
	if len(parts) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// Authenticate implements Strategy.
func (s *BearerStrategy) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, fnerrors.NewUnauthorizedError("bearer token required", ErrNoCredentials)
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, fnerrors.NewUnauthorizedError("invalid Authorization header format", ErrNoCredentials)
	}

	claims, err := s.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, fnerrors.NewUnauthorizedError("invalid token", err)
	}

	sub, _ := claims.GetSubject()
	return &Identity{
		Subject:  sub,
		Strategy: StrategyBearer,
		Claims:   claims,
		Token:    token,
	}, nil
}

// ValidateToken parses and verifies a token and returns its claims.
func (s *BearerStrategy) ValidateToken(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	var opts []jwt.ParserOption
	if s.secret != nil {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if s.secret != nil {
			return s.secret, nil
		}
		return s.keyFromJWKS(ctx, token)
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	if err := s.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *BearerStrategy) validateClaims(claims jwt.MapClaims) error {
	if s.issuer != "" {
		iss, err := claims.GetIssuer()
		if err != nil || strings.TrimSpace(iss) != strings.TrimSpace(s.issuer) {
			return ErrInvalidIssuer
		}
	}
	if s.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil || !slices.Contains(audiences, s.audience) {
			return ErrInvalidAudience
		}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || exp.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}

func (s *BearerStrategy) ensureJWKSRegistered(ctx context.Context) error {
	s.jwksRegistrationMu.Lock()
	defer s.jwksRegistrationMu.Unlock()

	if s.jwksRegistered {
		return s.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, jwksRegistrationTimeout)
	defer cancel()

	if err := s.jwksClient.Register(registrationCtx, s.jwksURL); err != nil {
		s.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		s.jwksRegistrationErr = nil
	}
	s.jwksRegistered = true
	return s.jwksRegistrationErr
}

func (s *BearerStrategy) keyFromJWKS(ctx context.Context, token *jwt.Token) (any, error) {
	if err := s.ensureJWKSRegistered(ctx); err != nil {
		return nil, fmt.Errorf("JWKS registration failed: %w", err)
	}

	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA, *jwt.SigningMethodRSAPSS:
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("token header missing kid")
	}

	keySet, err := s.jwksClient.Lookup(ctx, s.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}
