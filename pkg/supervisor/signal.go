// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// SignalFDEnv names the inherited file descriptor a child writes signals to.
const SignalFDEnv = "FNHIVE_SIGNAL_FD"

// SignalKind tags a Signal.
type SignalKind int

const (
	// KindReady reports that the child is serving.
	KindReady SignalKind = iota
	// KindFailed reports that the child cannot continue.
	KindFailed
)

func (k SignalKind) String() string {
	if k == KindReady {
		return "ready"
	}
	return "failed"
}

// Signal is a status message from a child process.
type Signal struct {
	Kind   SignalKind
	Reason string
}

// Ready returns a ready signal.
func Ready() Signal { return Signal{Kind: KindReady} }

// Failed returns a failure signal carrying reason.
func Failed(reason string) Signal { return Signal{Kind: KindFailed, Reason: reason} }

// wireSignal is the line format on the signal pipe.
type wireSignal struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// MarshalJSON encodes the signal as {"status": "ok"|"error", "detail": ...}.
func (s Signal) MarshalJSON() ([]byte, error) {
	w := wireSignal{Status: statusOK}
	if s.Kind == KindFailed {
		w = wireSignal{Status: statusError, Detail: s.Reason}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire format. Unknown statuses are failures.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Status {
	case statusOK:
		*s = Ready()
	case statusError:
		*s = Failed(w.Detail)
	default:
		*s = Failed(fmt.Sprintf("unknown status %q", w.Status))
	}
	return nil
}

// readSignals decodes signal lines from r until EOF, then closes out.
// Undecodable lines are reported as failures.
func readSignals(r io.Reader, out chan<- Signal) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sig Signal
		if err := json.Unmarshal(line, &sig); err != nil {
			sig = Failed(fmt.Sprintf("malformed signal: %v", err))
		}
		out <- sig
	}
}

// Notifier is the child side of the signal pipe.
type Notifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewNotifier writes signals to w.
func NewNotifier(w io.Writer) *Notifier {
	return &Notifier{w: w}
}

// NotifierFromEnv opens the pipe named by FNHIVE_SIGNAL_FD. When the variable
// is unset the process runs unsupervised and signals are discarded.
func NotifierFromEnv() (*Notifier, error) {
	raw := os.Getenv(SignalFDEnv)
	if raw == "" {
		return NewNotifier(io.Discard), nil
	}
	fd, err := strconv.Atoi(raw)
	if err != nil || fd < 3 {
		return nil, fmt.Errorf("invalid %s %q", SignalFDEnv, raw)
	}
	return NewNotifier(os.NewFile(uintptr(fd), "fnhive-signal")), nil
}

// Send writes one signal line.
func (n *Notifier) Send(sig Signal) error {
	line, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err = n.w.Write(append(line, '\n'))
	return err
}

// Ready reports readiness.
func (n *Notifier) Ready() error { return n.Send(Ready()) }

// Failed reports a failure.
func (n *Notifier) Failed(reason string) error { return n.Send(Failed(reason)) }
