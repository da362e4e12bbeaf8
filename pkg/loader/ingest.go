// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/stacklok/fnhive/pkg/module"
)

// indexName is the file stem that maps to its directory's path.
const indexName = "index"

var manifestExtensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// RoutePath maps a file path relative to the modules directory to a route
// path: the extension is dropped and "index" files name their directory.
func RoutePath(rel string) string {
	rel = filepath.ToSlash(rel)
	stem := strings.TrimSuffix(rel, path.Ext(rel))
	if path.Base(stem) == indexName {
		stem = path.Dir(stem)
	}
	if stem == "." {
		return "/"
	}
	return "/" + stem
}

// Scan reads and validates every manifest under dir. JSON manifests may
// contain comments and trailing commas; they are stored in standard form.
func Scan(dir string) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]string)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if !manifestExtensions[ext] {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		route := RoutePath(rel)
		if prev, dup := seen[route]; dup {
			return fmt.Errorf("%s and %s both map to %s", prev, rel, route)
		}
		seen[route] = rel

		// #nosec G304 - p comes from walking the configured modules directory
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		if ext == ".json" {
			if content, err = hujson.Standardize(content); err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
		}
		if _, err := module.DecodeManifest(content); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}

		entries = append(entries, Entry{Path: route, Source: filepath.ToSlash(rel), Content: content})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Ingest scans dir and replaces the store's contents with it. Nothing is
// changed when any manifest is invalid.
func Ingest(ctx context.Context, store *Store, dir string) (int, error) {
	entries, err := Scan(dir)
	if err != nil {
		return 0, fmt.Errorf("scanning modules: %w", err)
	}
	if err := store.Replace(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
