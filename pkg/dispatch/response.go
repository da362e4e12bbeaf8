// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"encoding/json"
	"net/http"

	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/logger"
)

// writeResult writes a handler result. Strings and byte slices are written
// as-is; anything else is encoded as JSON.
func writeResult(w http.ResponseWriter, out any) error {
	switch v := out.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
		return nil
	case string:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, err := w.Write([]byte(v))
		return err
	case []byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, err := w.Write(v)
		return err
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(body)
		return err
	}
}

// writeError logs err and writes its text as the body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := fnerrors.HTTPStatus(err)
	logger.Errorw("request failed",
		"method", r.Method, "path", r.URL.Path, "status", code, "error", err)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(err.Error()))
}
