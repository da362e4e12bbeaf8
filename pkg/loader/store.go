// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/opencontainers/go-digest"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ErrNotFound is returned for unknown route paths.
var ErrNotFound = errors.New("module not found")

// Route maps a path to stored content.
type Route struct {
	Path   string        `json:"path"`
	Digest digest.Digest `json:"digest"`
	Source string        `json:"source"`
	Size   int64         `json:"size"`
}

// Module is a route with its content.
type Module struct {
	Route
	Content []byte
}

// Store is a content-addressed module store: blobs are keyed by digest and
// routes point at blobs.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the store at path and applies migrations.
// ":memory:" gives a private in-memory store.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening module store: %w", err)
	}
	// one writer; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}
	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the module stored at path.
func (s *Store) Get(ctx context.Context, path string) (*Module, error) {
	var m Module
	var dgst string
	err := s.db.QueryRowContext(ctx, `
		SELECT r.path, r.digest, r.source, b.size, b.content
		FROM routes r JOIN blobs b ON b.digest = r.digest
		WHERE r.path = ?`, path,
	).Scan(&m.Path, &dgst, &m.Source, &m.Size, &m.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading module %s: %w", path, err)
	}
	m.Digest = digest.Digest(dgst)
	return &m, nil
}

// List returns every route ordered by path.
func (s *Store) List(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.path, r.digest, r.source, b.size
		FROM routes r JOIN blobs b ON b.digest = r.digest
		ORDER BY r.path`)
	if err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var r Route
		var dgst string
		if err := rows.Scan(&r.Path, &dgst, &r.Source, &r.Size); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		r.Digest = digest.Digest(dgst)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Entry is one module to store.
type Entry struct {
	Path    string
	Source  string
	Content []byte
}

// Replace atomically makes entries the complete set of routes. Blobs no
// longer referenced are pruned.
func (s *Store) Replace(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM routes`); err != nil {
		return fmt.Errorf("clearing routes: %w", err)
	}

	for _, e := range entries {
		dgst := digest.FromBytes(e.Content)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO blobs (digest, content, size) VALUES (?, ?, ?) ON CONFLICT (digest) DO NOTHING`,
			dgst.String(), e.Content, len(e.Content),
		); err != nil {
			return fmt.Errorf("storing blob for %s: %w", e.Path, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO routes (path, digest, source) VALUES (?, ?, ?)`,
			e.Path, dgst.String(), e.Source,
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("route %s declared twice", e.Path)
			}
			return fmt.Errorf("storing route %s: %w", e.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM blobs WHERE digest NOT IN (SELECT digest FROM routes)`); err != nil {
		return fmt.Errorf("pruning blobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY ||
			sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
