// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"
)

// memo shares connector instances between connectors that use the same
// factory with the same configuration, so two adapters pointing at one
// database hold one pool.
type memo struct {
	flight    singleflight.Group
	mu        sync.Mutex
	instances map[string]any
	created   []string
}

func newMemo() *memo {
	return &memo{instances: make(map[string]any)}
}

func memoKey(factory string, config map[string]any) (string, error) {
	// encoding/json sorts map keys, so equal configs produce equal keys
	raw, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return factory + "\x00" + string(raw), nil
}

func (m *memo) get(key string, create func() (any, error)) (any, bool, error) {
	m.mu.Lock()
	if v, ok := m.instances[key]; ok {
		m.mu.Unlock()
		return v, true, nil
	}
	m.mu.Unlock()

	v, err, shared := m.flight.Do(key, func() (any, error) {
		inst, err := create()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.instances[key] = inst
		m.created = append(m.created, key)
		m.mu.Unlock()
		return inst, nil
	})
	return v, shared, err
}

// close closes io.Closer instances in reverse creation order.
func (m *memo) close() error {
	m.mu.Lock()
	created := m.created
	instances := m.instances
	m.created = nil
	m.instances = make(map[string]any)
	m.mu.Unlock()

	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		if c, ok := instances[created[i]].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}
