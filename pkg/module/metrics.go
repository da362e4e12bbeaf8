// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package module

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

var resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fnhive",
	Subsystem: "module",
	Name:      "resolutions_total",
	Help:      "Module resolutions by outcome (hit, miss, error).",
}, []string{"result"})
