// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error kinds surfaced by the fnhive engine.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// Error types
const (
	// ErrResolution is returned when a module cannot be fetched, verified or decoded.
	ErrResolution = "resolution"

	// ErrComposition is returned when a connector factory fails while the adapter graph is built.
	ErrComposition = "composition"

	// ErrConnection is returned when a connector cannot reach its external resource.
	ErrConnection = "connection"

	// ErrDispatch is returned for malformed requests, missing exports and handler failures.
	ErrDispatch = "dispatch"

	// ErrUnauthorized is returned by authentication strategies.
	ErrUnauthorized = "unauthorized"

	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewResolutionError creates a new module resolution error
func NewResolutionError(message string, cause error) *Error {
	return NewError(ErrResolution, message, cause)
}

// NewCompositionError creates a new adapter composition error
func NewCompositionError(message string, cause error) *Error {
	return NewError(ErrComposition, message, cause)
}

// NewConnectionError creates a new connector connection error
func NewConnectionError(message string, cause error) *Error {
	return NewError(ErrConnection, message, cause)
}

// NewDispatchError creates a new dispatch error
func NewDispatchError(message string, cause error) *Error {
	return NewError(ErrDispatch, message, cause)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// hasType reports whether any error in err's chain is an *Error of the given type.
func hasType(err error, errorType string) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errorType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsResolution checks if the error is a resolution error
func IsResolution(err error) bool {
	return hasType(err, ErrResolution)
}

// IsComposition checks if the error is a composition error
func IsComposition(err error) bool {
	return hasType(err, ErrComposition)
}

// IsConnection checks if the error is a connection error
func IsConnection(err error) bool {
	return hasType(err, ErrConnection)
}

// IsDispatch checks if the error is a dispatch error
func IsDispatch(err error) bool {
	return hasType(err, ErrDispatch)
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return hasType(err, ErrUnauthorized)
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return hasType(err, ErrInvalidArgument)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return hasType(err, ErrInternal)
}

// HTTPStatus returns the response status for err. Unauthorized errors map to
// 401 and a code attached with httperr.WithCode is kept. Everything else is
// reported as 500 with the error text as the body.
func HTTPStatus(err error) int {
	if IsUnauthorized(err) {
		return http.StatusUnauthorized
	}
	if code := httperr.Code(err); code >= http.StatusBadRequest {
		return code
	}
	return http.StatusInternalServerError
}
