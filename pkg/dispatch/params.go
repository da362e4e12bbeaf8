// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	fnerrors "github.com/stacklok/fnhive/pkg/errors"
)

// MaxBodySize bounds request bodies.
const MaxBodySize = 1 << 20

// Params merges query-string and body parameters. Body values win over
// query values of the same name. Repeated query keys keep their first value.
func Params(r *http.Request) (map[string]any, error) {
	params := make(map[string]any)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	body, err := parseBody(r)
	if err != nil {
		return nil, err
	}
	for k, v := range body {
		params[k] = v
	}
	return params, nil
}

func parseBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return nil, fnerrors.NewDispatchError("failed to read request body", err)
	}
	if len(raw) > MaxBodySize {
		return nil, fnerrors.NewDispatchError("request body too large", nil)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fnerrors.NewDispatchError("malformed form body", err)
		}
		out := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}

	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil || out == nil {
		return nil, fnerrors.NewDispatchError("request body must be a JSON object", err)
	}
	return normalizeNumbers(out).(map[string]any), nil
}

// normalizeNumbers turns json.Number into int64 when exact, float64 otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
