package expert

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Ayash-Bera/arena/internal/models"
)

// Failure is the classified error returned when an expert invocation produces
// no usable response. It unwraps to both the taxonomy sentinel and the cause.
type Failure struct {
	Expert string
	Reason models.FailureReason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("expert %s: %s: %v", f.Expert, f.Reason, f.Err)
}

func (f *Failure) Unwrap() []error {
	return []error{sentinelFor(f.Reason), f.Err}
}

func sentinelFor(reason models.FailureReason) error {
	switch reason {
	case models.FailureTimeout:
		return models.ErrExpertTimeout
	case models.FailureRateLimited:
		return models.ErrRateLimited
	case models.FailureInvalidResponse:
		return models.ErrInvalidResponse
	default:
		return models.ErrExpertBackend
	}
}

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// errMalformed marks bodies that could not be decoded into a completion.
var errMalformed = errors.New("malformed backend response")

// Classify maps a backend error into the closed failure taxonomy.
func Classify(err error) models.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FailureTimeout
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == 429 {
			return models.FailureRateLimited
		}
		return models.FailureBackendError
	}
	if errors.Is(err, errMalformed) {
		return models.FailureInvalidResponse
	}
	return models.FailureBackendError
}
