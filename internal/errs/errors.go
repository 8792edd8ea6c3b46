// Package errs provides the failure taxonomy from the error-handling
// design: sentinel errors for each failure kind plus a wrapping struct
// that carries enough context (operation, node alias) for callers to
// log and for errors.Is/As to classify.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors, one family per failure kind in the propagation policy.
var (
	// Connect: DNS/TCP connect failures during connect_all.
	ErrConnect = errors.New("connect failed")

	// Protocol: unexpected line shape, missing MANIFEST prefix, non-OK response.
	ErrProtocol = errors.New("protocol violation")

	// Validation: a plan was rejected before any node was contacted.
	ErrValidation = errors.New("plan validation failed")

	// Transport: broken pipe mid-request, response timeout.
	ErrTransport = errors.New("transport failure")

	// NodeReported: the node itself replied ERR <code> <detail>.
	ErrNodeReported = errors.New("node reported error")

	// Planner: the remote planner returned a non-200 or malformed body.
	ErrPlanner = errors.New("planner failure")

	// Internal: a bug-class invariant violation.
	ErrInternal = errors.New("internal invariant violation")

	// Ambiguous marks a token lookup that resolved to more than one node.
	ErrAmbiguous = errors.New("ambiguous token")

	// NotFound marks a token or target lookup that resolved to nothing.
	ErrNotFound = errors.New("not found")

	// RetryExhausted marks a bounded-backoff retry that ran out of
	// attempts without a single call succeeding.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// DaemonError wraps one of the sentinels above with operation-specific
// context. It implements Unwrap so errors.Is/As see through to the
// sentinel and to any further-wrapped cause.
type DaemonError struct {
	Op        string // e.g. "session.request", "executor.run_step"
	NodeAlias string // empty when not node-scoped
	Err       error  // one of the sentinels above, or wraps one
}

func (e *DaemonError) Error() string {
	if e.NodeAlias != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Op, e.NodeAlias, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *DaemonError) Unwrap() error { return e.Err }

// Wrap builds a DaemonError for a node-scoped operation.
func Wrap(op, alias string, kind error, detail error) *DaemonError {
	var err error
	if detail != nil {
		err = fmt.Errorf("%w: %v", kind, detail)
	} else {
		err = kind
	}
	return &DaemonError{Op: op, NodeAlias: alias, Err: err}
}

// IsRetryable reports whether a one-shot reconnect-and-resend is an
// appropriate response to err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrConnect)
}

// IsValidation reports whether err originated in the plan validator and
// should surface as an HTTP 400 without ever reaching a node.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNodeReported reports whether err is a verbatim ERR <code> <detail>
// bounced back from a node.
func IsNodeReported(err error) bool {
	return errors.Is(err, ErrNodeReported)
}
