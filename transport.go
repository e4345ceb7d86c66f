package mailout

import (
	"context"
	"errors"
	"fmt"
)

// Transport delivers one rendered message to its recipient. A nil return
// means the provider accepted the message. Failures should be wrapped with
// Transient or Permanent; unwrapped errors are treated as transient.
type Transport interface {
	// Send delivers a single message and returns an error on failure.
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) error

// Send implements Transport.
func (fn TransportFunc) Send(ctx context.Context, msg Message) error {
	return fn(ctx, msg)
}

// PermanentError marks a delivery failure that must not be retried.
type PermanentError struct {
	Err error
}

// Error implements error.
func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// TransientError marks a delivery failure worth retrying.
type TransientError struct {
	Err error
}

// Error implements error.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a non-retryable delivery failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

// Transient wraps err as a retryable delivery failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError. Anything else,
// including timeouts and unclassified errors, is treated as transient.
func IsPermanent(err error) bool {
	var perm *PermanentError

	return errors.As(err, &perm)
}

// FailureAction defines how a failed delivery attempt should be handled.
type FailureAction int

const (
	// FailureRetry schedules the message for another attempt.
	FailureRetry FailureAction = iota
	// FailurePermanent fails the message immediately.
	FailurePermanent
)

// FailureClassifier decides whether a delivery failure is retryable.
type FailureClassifier func(ctx context.Context, msg Message, err error) FailureAction

func defaultFailureClassifier(_ context.Context, _ Message, err error) FailureAction {
	if IsPermanent(err) {
		return FailurePermanent
	}

	return FailureRetry
}
