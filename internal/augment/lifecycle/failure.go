// internal/augment/lifecycle/failure.go
package lifecycle

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/collab"
)

// Classify maps a conversion error onto a failure kind. Errors that already
// carry a kind keep it.
func Classify(err error) *core.ConversionFailure {
	if err == nil {
		return nil
	}
	var cf *core.ConversionFailure
	if errors.As(err, &cf) {
		return cf
	}
	return core.NewFailure(kindOf(err), err)
}

func kindOf(err error) core.FailureKind {
	var (
		netErr    net.Error
		statusErr *collab.StatusError
		opErr     *net.OpError
		urlErr    *url.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.FailureTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return core.FailureTimeout
	case errors.Is(err, collab.ErrUnavailable):
		return core.FailureServiceUnavailable
	case errors.As(err, &statusErr) && statusErr.Transient():
		return core.FailureServiceUnavailable
	case errors.Is(err, collab.ErrCrossOrigin):
		return core.FailureCORS
	case errors.As(err, &opErr), errors.As(err, &urlErr):
		return core.FailureNetwork
	}
	return core.FailureUnknown
}
