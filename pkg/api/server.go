// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api holds the HTTP serving loop shared by every fnhive process:
// the loader, the request server and the supervisor's admin endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/fnhive/pkg/logger"
)

// Not sure if these values need to be configurable.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Listen binds a TCP listener on address.
func Listen(address string) (net.Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return listener, nil
}

// Serve binds address and serves handler until ctx is cancelled. ready, when
// non-nil, is called once the listener is bound and before any request is
// accepted.
// It is assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, name, address string, handler http.Handler, ready func(net.Addr)) error {
	listener, err := Listen(address)
	if err != nil {
		return err
	}
	return ServeListener(ctx, name, listener, handler, ready)
}

// ServeListener is Serve over an already bound listener. The listener is
// closed when the function returns.
func ServeListener(
	ctx context.Context,
	name string,
	listener net.Listener,
	handler http.Handler,
	ready func(net.Addr),
) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Infow("starting server", "name", name, "address", listener.Addr().String())
	if ready != nil {
		ready(listener.Addr())
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server stopped with error: %w", name, err)
	case <-ctx.Done():
	}

	// ctx is already done, so shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server shutdown failed: %w", name, err)
	}

	logger.Infof("%s server stopped", name)
	return nil
}

// CommonMiddleware is the middleware stack every fnhive router starts with.
func CommonMiddleware() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	}
}
