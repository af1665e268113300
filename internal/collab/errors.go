// internal/collab/errors.go
package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrCrossOrigin is returned when a response does not grant the requesting
	// origin access.
	ErrCrossOrigin = errors.New("cross-origin access denied")
	// ErrUnavailable means the conversion service is refusing work, for
	// example while the circuit breaker is open.
	ErrUnavailable = errors.New("conversion service unavailable")
	// ErrUnsupportedScheme is returned for URLs the fetcher cannot load.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	// ErrPrivilegedDisabled is returned for privileged fetches when they are
	// not enabled.
	ErrPrivilegedDisabled = errors.New("privileged fetch disabled")
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.Code, e.Body)
}

// Transient reports statuses worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == 429 || e.Code >= 500
}

// JobError is a conversion job that the service reported as failed.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("conversion job %s failed: %s", e.JobID, e.Message)
}
