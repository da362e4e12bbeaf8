// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is returned when adapters require each other.
	ErrCycle = errors.New("adapter dependency cycle")
	// ErrUnknownAdapter is returned when a connector requires an undeclared adapter.
	ErrUnknownAdapter = errors.New("unknown adapter")
)

// Order returns the adapters in composition order: every adapter comes after
// the adapters its connectors require, and ties keep declaration order. A
// spec without requirements composes exactly in declaration order.
func (s *GraphSpec) Order() ([]AdapterSpec, error) {
	index := make(map[string]int, len(s.Adapters))
	for i, a := range s.Adapters {
		index[a.Name] = i
	}

	indegree := make([]int, len(s.Adapters))
	dependents := make([][]int, len(s.Adapters))
	for i, a := range s.Adapters {
		for _, req := range a.requires() {
			j, ok := index[req]
			if !ok {
				return nil, fmt.Errorf("%w %q required by %s", ErrUnknownAdapter, req, a.Name)
			}
			if j == i {
				return nil, fmt.Errorf("%w: %s requires itself", ErrCycle, a.Name)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ordered := make([]AdapterSpec, 0, len(s.Adapters))
	done := make([]bool, len(s.Adapters))
	for len(ordered) < len(s.Adapters) {
		// lowest declaration index among ready adapters
		next := -1
		for i := range s.Adapters {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, a := range s.Adapters {
				if !done[i] {
					stuck = append(stuck, a.Name)
				}
			}
			return nil, fmt.Errorf("%w between %s", ErrCycle, strings.Join(stuck, ", "))
		}

		done[next] = true
		ordered = append(ordered, s.Adapters[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return ordered, nil
}
