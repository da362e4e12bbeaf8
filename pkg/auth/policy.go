// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"github.com/stacklok/toolhive-core/cel"
)

// Policy is a boolean CEL expression over an identity's claims, available
// as the "claims" variable, e.g. `"admins" in claims.groups`.
type Policy struct {
	source string
	expr   *cel.CompiledExpression
}

func newClaimsEngine() *cel.Engine {
	return cel.NewEngine(
		celgo.Variable("claims", celgo.MapType(celgo.StringType, celgo.DynType)),
	)
}

// NewPolicy compiles a claims policy.
func NewPolicy(expression string) (*Policy, error) {
	expr, err := newClaimsEngine().Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid claims policy %q: %w", expression, err)
	}
	return &Policy{source: expression, expr: expr}, nil
}

// Allow reports whether the identity satisfies the policy. A nil policy
// allows everyone; an evaluation error denies.
func (p *Policy) Allow(identity *Identity) (bool, error) {
	if p == nil {
		return true, nil
	}
	claims := identity.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	ok, err := p.expr.EvaluateBool(map[string]any{"claims": claims})
	if err != nil {
		return false, fmt.Errorf("evaluating claims policy: %w", err)
	}
	return ok, nil
}

// String returns the policy expression.
func (p *Policy) String() string {
	if p == nil {
		return ""
	}
	return p.source
}
