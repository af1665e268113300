package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/augment/lifecycle"
	"github.com/xkilldash9x/depthlens/internal/collab"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	tests := []struct {
		name string
		err  error
		want core.FailureKind
	}{
		{"deadline", fmt.Errorf("waiting: %w", context.DeadlineExceeded), core.FailureTimeout},
		{"net timeout", &url.Error{Op: "Get", URL: "https://svc.test", Err: timeoutErr{}}, core.FailureTimeout},
		{"breaker open", fmt.Errorf("%w: circuit breaker is open", collab.ErrUnavailable), core.FailureServiceUnavailable},
		{"5xx", &collab.StatusError{Code: 503}, core.FailureServiceUnavailable},
		{"429", fmt.Errorf("submit: %w", &collab.StatusError{Code: 429}), core.FailureServiceUnavailable},
		{"4xx", &collab.StatusError{Code: 404}, core.FailureUnknown},
		{"cors", fmt.Errorf("cors: %w", collab.ErrCrossOrigin), core.FailureCORS},
		{"dial", dial, core.FailureNetwork},
		{"url error", &url.Error{Op: "Post", URL: "https://svc.test", Err: dial}, core.FailureNetwork},
		{"job failed", &collab.JobError{JobID: "j", Message: "bad input"}, core.FailureUnknown},
		{"plain", errors.New("boom"), core.FailureUnknown},
		{"already classified", core.NewFailure(core.FailureCORS, errors.New("x")), core.FailureCORS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := lifecycle.Classify(tt.err)
			if assert.NotNil(t, f) {
				assert.Equal(t, tt.want, f.Kind)
				assert.ErrorIs(t, f, tt.err)
			}
		})
	}
	assert.Nil(t, lifecycle.Classify(nil))
}

func TestClassifyKeepsExistingFailure(t *testing.T) {
	orig := core.NewFailure(core.FailureNetwork, errors.New("reset"))
	assert.Same(t, orig, lifecycle.Classify(fmt.Errorf("outer: %w", orig)))
}
