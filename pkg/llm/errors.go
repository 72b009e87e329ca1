package llm

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind string

const (
	KindTimeout     Kind = "timeout"      // per-call deadline expired
	KindTransport   Kind = "transport"    // network or connection failure
	KindBadResponse Kind = "bad_response" // non-2xx or no extractable text
	KindCancelled   Kind = "cancelled"    // caller context or cancel check
)

// errCancelledByCheck marks a stream abandoned because the caller's
// CancelCheck returned true between fragments.
var errCancelledByCheck = errors.New("cancelled by caller")

// CallError is the error type returned by Client.Call. Kind tells callers
// how to react: Transport failures are retryable by the user, Timeout and
// BadResponse are not, Cancelled was requested.
type CallError struct {
	Kind Kind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// classify wraps err in a CallError with the matching kind.
func classify(err error) *CallError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CallError{Kind: KindTimeout, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, errCancelledByCheck):
		return &CallError{Kind: KindCancelled, Err: err}
	default:
		return &CallError{Kind: KindTransport, Err: err}
	}
}

// badResponse wraps err as a BadResponse failure.
func badResponse(err error) *CallError {
	return &CallError{Kind: KindBadResponse, Err: err}
}

func isKind(err error, kind Kind) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsTimeout reports whether err is a call that hit its deadline.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsTransport reports whether err is a network-level failure.
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// IsBadResponse reports whether err is a response the client could not use.
func IsBadResponse(err error) bool { return isKind(err, KindBadResponse) }

// IsCancelled reports whether err is a cancellation, either from the
// caller's context or the mid-stream cancel check.
func IsCancelled(err error) bool { return isKind(err, KindCancelled) }
