package nrepl

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError reports that no connection to an nREPL server could
// be established. Err carries the last or combined dial failures.
type ConnectionError struct {
	// Expr is the connection expression that was being resolved.
	Expr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("nrepl: cannot connect to %q: %s", e.Expr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports that the peer sent bytes that are not valid
// bencode or a response that violates the protocol. It is fatal for
// the connection.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nrepl: protocol error: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("nrepl: protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DisconnectionError reports that the transport failed or reached EOF
// while responses were still expected.
type DisconnectionError struct {
	Err error
}

func (e *DisconnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nrepl: connection lost: %s", e.Err)
	}
	return "nrepl: connection lost"
}

func (e *DisconnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that an operation did not complete within the
// configured limit. It maps to its own exit code so scripts can tell
// slowness apart from failure.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("nrepl: %s timed out after %s", e.Op, e.Limit)
}

// EvaluationError reports that submitted code threw on the server.
// The session and connection remain usable.
type EvaluationError struct {
	Ex     string
	RootEx string
}

func (e *EvaluationError) Error() string {
	if e.RootEx != "" && e.RootEx != e.Ex {
		return fmt.Sprintf("nrepl: evaluation failed: %s (root: %s)", e.Ex, e.RootEx)
	}
	return fmt.Sprintf("nrepl: evaluation failed: %s", e.Ex)
}

// ExitCode maps an error from a run to the process exit code: 0 for
// success, 2 for timeouts, 1 for everything else. An evaluation error
// is a remote result that was delivered, not a client failure, so by
// itself it leaves the exit code at 0; callers that want stricter
// behavior decide that themselves.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return 2
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return 0
	}
	return 1
}
