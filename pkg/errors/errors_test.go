// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stacklok/toolhive-core/httperr"
	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrResolution,
				Message: "failed to fetch /greet",
				Cause:   errors.New("connection refused"),
			},
			want: "resolution: failed to fetch /greet: connection refused",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrDispatch,
				Message: "no entry point for GET",
			},
			want: "dispatch: no entry point for GET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := NewInternalError("test message", cause)
	assert.Same(t, cause, err.Unwrap())
	assert.Nil(t, NewInternalError("test message", nil).Unwrap())
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	resolution := NewResolutionError("fetch failed", errors.New("boom"))
	dispatch := NewDispatchError("handler failed", resolution)
	wrapped := fmt.Errorf("request /greet: %w", dispatch)

	assert.True(t, IsDispatch(wrapped))
	assert.True(t, IsResolution(wrapped), "nested kinds are visible through the cause chain")
	assert.False(t, IsComposition(wrapped))
	assert.False(t, IsUnauthorized(errors.New("plain")))
	assert.False(t, IsConnection(nil))

	assert.True(t, IsComposition(NewCompositionError("factory failed", nil)))
	assert.True(t, IsConnection(NewConnectionError("ping failed", nil)))
	assert.True(t, IsUnauthorized(NewUnauthorizedError("bad token", nil)))
	assert.True(t, IsInvalidArgument(NewInvalidArgumentError("bad", nil)))
	assert.True(t, IsInternal(NewInternalError("bad", nil)))
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unauthorized", err: NewUnauthorizedError("no credentials", nil), want: http.StatusUnauthorized},
		{name: "wrapped unauthorized", err: fmt.Errorf("auth: %w", NewUnauthorizedError("bad", nil)), want: http.StatusUnauthorized},
		{name: "dispatch", err: NewDispatchError("handler failed", nil), want: http.StatusInternalServerError},
		{name: "invalid argument", err: NewInvalidArgumentError("missing name", nil), want: http.StatusInternalServerError},
		{name: "plain", err: errors.New("boom"), want: http.StatusInternalServerError},
		{name: "explicit code", err: httperr.WithCode(errors.New("gone"), http.StatusNotFound), want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
