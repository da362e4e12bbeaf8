// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package module resolves route paths to verified module manifests.
//
// A module is fetched from {baseURL}{path}?v={token}&token={accessToken},
// where the version token comes from the process-owned version cache. The
// fetched body must match the content digest announced by the module source
// before it is decoded; nothing fetched is executed directly. Exports name
// registered plugins or CEL expressions that the handler package compiles.
package module

import (
	_ "crypto/sha256" // registers the canonical digest algorithm

	"github.com/opencontainers/go-digest"
)

// Module is the exported surface of a resolved module.
type Module struct {
	Locator  Locator
	Digest   digest.Digest
	Manifest *Manifest
}

// Default returns the default export, if any.
func (m *Module) Default() (Entry, bool) {
	return m.Export(DefaultExport)
}

// Export returns the named export, if any.
func (m *Module) Export(name string) (Entry, bool) {
	if m == nil || m.Manifest == nil {
		return Entry{}, false
	}
	e, ok := m.Manifest.Exports[name]
	return e, ok
}

// EntryFor selects the entry point for an HTTP method. A named export matching
// the method wins; otherwise the default export is used.
func (m *Module) EntryFor(method string) (name string, entry Entry, ok bool) {
	if e, found := m.Export(method); found {
		return method, e, true
	}
	if e, found := m.Default(); found {
		return DefaultExport, e, true
	}
	return "", Entry{}, false
}
