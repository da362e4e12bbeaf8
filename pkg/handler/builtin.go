// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/stacklok/fnhive/pkg/adapter"
	fnerrors "github.com/stacklok/fnhive/pkg/errors"
)

// KeyValue is implemented by key/value connectors.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Querier is implemented by SQL connectors.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Fetcher is implemented by HTTP client connectors.
type Fetcher interface {
	FetchJSON(ctx context.Context, path string, query url.Values) (any, error)
}

var builtins = map[string]Plugin{
	"echo":   newEcho,
	"static": newStatic,
	"kv":     newKV,
	"sql":    newSQL,
	"fetch":  newFetch,
}

// ConnectorRef points a plugin at a connector in the adapter graph.
type ConnectorRef struct {
	Adapter   string `json:"adapter"`
	Connector string `json:"connector"`
}

func (r ConnectorRef) validate() error {
	if r.Adapter == "" || r.Connector == "" {
		return fmt.Errorf("adapter and connector are required")
	}
	return nil
}

func lookup[T any](req *Request, ref ConnectorRef) (T, error) {
	v, err := adapter.Lookup[T](req.Adapters, ref.Adapter, ref.Connector)
	if err != nil {
		return v, fnerrors.NewDispatchError("connector unavailable", err)
	}
	return v, nil
}

func param(req *Request, name string) (string, error) {
	v, ok := req.Params[name]
	if !ok {
		return "", fnerrors.NewInvalidArgumentError(fmt.Sprintf("missing parameter %q", name), nil)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// echo returns the request as seen by the handler.
func newEcho(map[string]any) (Handler, error) {
	return HandlerFunc(func(_ context.Context, req *Request) (any, error) {
		out := map[string]any{
			"path":   req.Path,
			"method": req.Method,
			"export": req.Export,
			"params": req.Params,
		}
		if req.Identity != nil {
			out["subject"] = req.Identity.Subject
		}
		return out, nil
	}), nil
}

// static returns config.body unchanged.
func newStatic(config map[string]any) (Handler, error) {
	body, ok := config["body"]
	if !ok {
		return nil, fmt.Errorf("body is required")
	}
	return HandlerFunc(func(context.Context, *Request) (any, error) {
		return body, nil
	}), nil
}

type kvConfig struct {
	ConnectorRef
	// Op is one of get, set or delete.
	Op string `json:"op"`
	// KeyParam and ValueParam name the request parameters holding the key and value.
	KeyParam   string `json:"key_param"`
	ValueParam string `json:"value_param"`
}

func newKV(config map[string]any) (Handler, error) {
	cfg := kvConfig{Op: "get", KeyParam: "key", ValueParam: "value"}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	switch cfg.Op {
	case "get", "set", "delete":
	default:
		return nil, fmt.Errorf("unsupported op %q", cfg.Op)
	}

	return HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		kv, err := lookup[KeyValue](req, cfg.ConnectorRef)
		if err != nil {
			return nil, err
		}
		key, err := param(req, cfg.KeyParam)
		if err != nil {
			return nil, err
		}

		switch cfg.Op {
		case "set":
			value, err := param(req, cfg.ValueParam)
			if err != nil {
				return nil, err
			}
			if err := kv.Set(ctx, key, value); err != nil {
				return nil, err
			}
			return map[string]any{"key": key, "value": value}, nil
		case "delete":
			if err := kv.Delete(ctx, key); err != nil {
				return nil, err
			}
			return map[string]any{"key": key, "deleted": true}, nil
		default:
			value, found, err := kv.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if !found {
				return map[string]any{"key": key, "found": false}, nil
			}
			return map[string]any{"key": key, "found": true, "value": value}, nil
		}
	}), nil
}

type sqlConfig struct {
	ConnectorRef
	Query string `json:"query"`
	// Args names the request parameters bound, in order, to the query placeholders.
	Args []string `json:"args"`
}

func newSQL(config map[string]any) (Handler, error) {
	var cfg sqlConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	return HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		db, err := lookup[Querier](req, cfg.ConnectorRef)
		if err != nil {
			return nil, err
		}

		args := make([]any, 0, len(cfg.Args))
		for _, name := range cfg.Args {
			v, ok := req.Params[name]
			if !ok {
				return nil, fnerrors.NewInvalidArgumentError(fmt.Sprintf("missing parameter %q", name), nil)
			}
			args = append(args, v)
		}

		rows, err := db.QueryContext(ctx, cfg.Query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanRows(rows)
	}), nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type fetchConfig struct {
	ConnectorRef
	Path string `json:"path"`
	// Forward lists request parameters copied into the upstream query string.
	Forward []string `json:"forward"`
}

func newFetch(config map[string]any) (Handler, error) {
	var cfg fetchConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		client, err := lookup[Fetcher](req, cfg.ConnectorRef)
		if err != nil {
			return nil, err
		}
		query := url.Values{}
		for _, name := range cfg.Forward {
			if v, ok := req.Params[name]; ok {
				query.Set(name, fmt.Sprint(v))
			}
		}
		return client.FetchJSON(ctx, cfg.Path, query)
	}), nil
}
