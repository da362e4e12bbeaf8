// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package connectors

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/stacklok/fnhive/pkg/adapter"
)

type sqliteConfig struct {
	RetryConfig
	DSN string `json:"dsn"`
	// Init statements run once after the database is reachable.
	Init []string `json:"init,omitempty"`
}

// newSQLite returns a *sql.DB. In-memory databases are limited to a single
// connection so every query sees the same database.
func newSQLite(ctx context.Context, in adapter.FactoryInput) (any, error) {
	var cfg sqliteConfig
	if err := in.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.DSN == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := connect(ctx, in, cfg.RetryConfig, db.PingContext); err != nil {
		_ = db.Close()
		return nil, err
	}

	for _, stmt := range cfg.Init {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init statement failed: %w", err)
		}
	}
	return db, nil
}
