// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"fmt"
	"reflect"

	celgo "github.com/google/cel-go/cel"
	"google.golang.org/protobuf/types/known/structpb"
)

var jsonValueType = reflect.TypeOf(&structpb.Value{})

// ExprCompiler compiles CEL expressions into handlers. Expressions see the
// variables params, env, method, path and identity. identity is empty for
// anonymous requests and otherwise holds subject, strategy and claims.
type ExprCompiler struct {
	env *celgo.Env
	err error
}

// NewExprCompiler creates a compiler with the handler variables declared.
func NewExprCompiler() *ExprCompiler {
	env, err := celgo.NewEnv(
		celgo.Variable("params", celgo.MapType(celgo.StringType, celgo.DynType)),
		celgo.Variable("env", celgo.MapType(celgo.StringType, celgo.StringType)),
		celgo.Variable("method", celgo.StringType),
		celgo.Variable("path", celgo.StringType),
		celgo.Variable("identity", celgo.MapType(celgo.StringType, celgo.DynType)),
	)
	return &ExprCompiler{env: env, err: err}
}

// Compile parses and checks an expression.
func (c *ExprCompiler) Compile(expr string) (Handler, error) {
	if c.err != nil {
		return nil, fmt.Errorf("expression environment: %w", c.err)
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid expression: %w", issues.Err())
	}
	prg, err := c.env.Program(ast, celgo.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	return &exprHandler{source: expr, program: prg}, nil
}

type exprHandler struct {
	source  string
	program celgo.Program
}

func (h *exprHandler) Handle(ctx context.Context, req *Request) (any, error) {
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	env := req.Env
	if env == nil {
		env = map[string]string{}
	}

	out, _, err := h.program.ContextEval(ctx, map[string]any{
		"params":   params,
		"env":      env,
		"method":   req.Method,
		"path":     req.Path,
		"identity": identityVars(req),
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", h.source, err)
	}

	native, err := out.ConvertToNative(jsonValueType)
	if err != nil {
		return nil, fmt.Errorf("expression result %s is not JSON-representable: %w", out.Type(), err)
	}
	return native.(*structpb.Value).AsInterface(), nil
}

func identityVars(req *Request) map[string]any {
	if req.Identity == nil {
		return map[string]any{}
	}
	claims := req.Identity.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	return map[string]any{
		"subject":  req.Identity.Subject,
		"strategy": req.Identity.Strategy,
		"claims":   claims,
	}
}
