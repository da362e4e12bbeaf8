// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal_WireFormat(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Ready())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	raw, err = json.Marshal(Failed("port in use"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","detail":"port in use"}`, string(raw))

	var sig Signal
	require.NoError(t, json.Unmarshal([]byte(`{"status":"restarting"}`), &sig))
	assert.Equal(t, KindFailed, sig.Kind)
	assert.Contains(t, sig.Reason, "restarting")
}

func TestReadSignals(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"status":"ok"}`,
		``,
		`not json`,
		`{"status":"error","detail":"boom"}`,
	}, "\n")

	out := make(chan Signal, 8)
	readSignals(strings.NewReader(input), out)

	var got []Signal
	for sig := range out {
		got = append(got, sig)
	}
	require.Len(t, got, 3)
	assert.Equal(t, Ready(), got[0])
	assert.Equal(t, KindFailed, got[1].Kind)
	assert.Contains(t, got[1].Reason, "malformed signal")
	assert.Equal(t, Failed("boom"), got[2])
}

func TestNotifier_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewNotifier(&buf)
	require.NoError(t, n.Ready())
	require.NoError(t, n.Failed("shutting down"))

	out := make(chan Signal, 4)
	readSignals(io.Reader(&buf), out)
	assert.Equal(t, Ready(), <-out)
	assert.Equal(t, Failed("shutting down"), <-out)
}

//nolint:paralleltest // modifies the process environment
func TestNotifierFromEnv(t *testing.T) {
	t.Setenv(SignalFDEnv, "")
	n, err := NotifierFromEnv()
	require.NoError(t, err)
	assert.NoError(t, n.Ready(), "unsupervised runs discard signals")

	t.Setenv(SignalFDEnv, "1")
	_, err = NotifierFromEnv()
	assert.Error(t, err)

	t.Setenv(SignalFDEnv, "abc")
	_, err = NotifierFromEnv()
	assert.Error(t, err)
}
