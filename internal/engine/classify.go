package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ClassifyTransportError maps transport-level errors to sentinel errors
// so callers can decide whether to retry.
func ClassifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

// ClassifyStatusCode maps non-2xx provider responses to sentinel errors.
func ClassifyStatusCode(status int) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w: status %d", ErrRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrEngineUnavailable, status)
	default:
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, status)
	}
}
