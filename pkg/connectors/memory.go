// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package connectors

import (
	"context"
	"sync"

	"github.com/stacklok/fnhive/pkg/adapter"
)

// MemoryKV is an in-process key/value store.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

type memoryConfig struct {
	Initial map[string]string `json:"initial,omitempty"`
}

func newMemory(_ context.Context, in adapter.FactoryInput) (any, error) {
	var cfg memoryConfig
	if err := in.Decode(&cfg); err != nil {
		return nil, err
	}
	kv := &MemoryKV{data: make(map[string]string, len(cfg.Initial))}
	for k, v := range cfg.Initial {
		kv.data[k] = v
	}
	return kv, nil
}

// Get returns the value stored under key.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete removes key.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
