// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package connectors provides the builtin connector factories that adapters
// are composed from.
package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/fnhive/pkg/adapter"
	fnerrors "github.com/stacklok/fnhive/pkg/errors"
	"github.com/stacklok/fnhive/pkg/logger"
)

// Factory names, as used by "builtin:<name>" locators and by connector
// module manifests.
const (
	Memory = "memory"
	Redis  = "redis"
	SQLite = "sqlite"
	HTTP   = "http"
)

const (
	defaultRetries    = 5
	defaultRetryDelay = time.Second
)

// Register adds every builtin factory to the registry.
func Register(reg *adapter.Registry) error {
	for name, f := range map[string]adapter.Factory{
		Memory: newMemory,
		Redis:  newRedis,
		SQLite: newSQLite,
		HTTP:   newHTTP,
	} {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// RetryConfig bounds connection attempts made while a connector starts.
type RetryConfig struct {
	// Retries is the number of additional attempts after the first.
	Retries *int `json:"retries,omitempty"`
	// RetryDelay is a Go duration string, such as "500ms".
	RetryDelay string `json:"retry_delay,omitempty"`
}

func (c RetryConfig) policy() (int, time.Duration, error) {
	retries := defaultRetries
	if c.Retries != nil {
		if *c.Retries < 0 {
			return 0, 0, fmt.Errorf("retries must not be negative")
		}
		retries = *c.Retries
	}
	delay := defaultRetryDelay
	if c.RetryDelay != "" {
		d, err := time.ParseDuration(c.RetryDelay)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid retry_delay: %w", err)
		}
		delay = d
	}
	return retries, delay, nil
}

// connect runs ping until it succeeds, retrying with a fixed delay. When
// attempts run out the last error is returned as a connection error.
func connect(ctx context.Context, in adapter.FactoryInput, rc RetryConfig, ping func(context.Context) error) error {
	retries, delay, err := rc.policy()
	if err != nil {
		return err
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, ping(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnw("connector not ready, retrying",
				"adapter", in.Adapter, "connector", in.Connector,
				"attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return fnerrors.NewConnectionError(
			fmt.Sprintf("connector %s.%s failed after %d attempts", in.Adapter, in.Connector, attempt), err)
	}
	return nil
}
