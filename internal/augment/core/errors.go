// internal/augment/core/errors.go
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict means a surface already exists for the candidate or its
	// container. Resolved by suppression, never shown to the user.
	ErrConflict = errors.New("injection conflict")
	// ErrInFlight rejects a second trigger while a conversion runs.
	ErrInFlight = errors.New("conversion already in flight")
	// ErrDetached means the node left the document between check and act.
	ErrDetached = errors.New("node is no longer connected")
	// ErrNotTracked means no record exists for the node.
	ErrNotTracked = errors.New("node is not tracked")
	// ErrEngineClosed is returned after teardown.
	ErrEngineClosed = errors.New("engine is closed")
)

// TransitionError reports an illegal lifecycle move.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// FailureKind classifies conversion failures.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureCORS
	FailureNetwork
	FailureTimeout
	FailureServiceUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureCORS:
		return "cors"
	case FailureNetwork:
		return "network"
	case FailureTimeout:
		return "timeout"
	case FailureServiceUnavailable:
		return "service-unavailable"
	}
	return "unknown"
}

func (k FailureKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Retryable kinds reset the control surface automatically.
func (k FailureKind) Retryable() bool {
	return k == FailureNetwork || k == FailureTimeout || k == FailureServiceUnavailable
}

// ConversionFailure is a classified conversion error.
type ConversionFailure struct {
	Kind FailureKind
	Err  error
}

func (e *ConversionFailure) Error() string {
	if e.Err == nil {
		return "conversion failed (" + e.Kind.String() + ")"
	}
	return fmt.Sprintf("conversion failed (%s): %v", e.Kind, e.Err)
}

func (e *ConversionFailure) Unwrap() error { return e.Err }

// NewFailure wraps err with a kind.
func NewFailure(kind FailureKind, err error) *ConversionFailure {
	return &ConversionFailure{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error chain, or FailureUnknown.
func KindOf(err error) FailureKind {
	var cf *ConversionFailure
	if errors.As(err, &cf) {
		return cf.Kind
	}
	return FailureUnknown
}

// StaleError describes a record whose DOM no longer matches, repaired by the
// reconciliation loop.
type StaleError struct {
	RecordID string
	Reason   string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("stale record %s: %s", e.RecordID, e.Reason)
}
