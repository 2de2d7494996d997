// Package apperr defines the errors returned by the airops client packages.
//
// Parameter and subscription errors are raised before any remote side effect.
// Transport errors carry the HTTP status of the failed call. Timeouts are
// synthesized locally and carry enough of the execution handle to resume
// polling later.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingParameter is returned when a required argument is empty
	ErrMissingParameter = errors.New("missing parameter")

	// ErrMissingCallback is returned when streaming is requested without a chunk callback
	ErrMissingCallback = errors.New("missing callback")

	// ErrSubscription is the sentinel matched by every *SubscriptionError
	ErrSubscription = errors.New("subscription failed")

	// ErrExecutionTimeout is the sentinel matched by every *TimeoutError
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrIdentityIncomplete is returned when only part of an identity is supplied
	ErrIdentityIncomplete = errors.New("identity requires user id, workspace id and hashed user id")

	// ErrInvalidPayload is returned when inputs fail the app's input schema
	ErrInvalidPayload = errors.New("invalid payload")
)

// MissingParameter returns ErrMissingParameter naming the offending parameter
func MissingParameter(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, name)
}

// MissingCallback returns ErrMissingCallback naming the required callback
func MissingCallback(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingCallback, name)
}

// APIError is a non-2xx response from the remote API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// SubscriptionError reports a realtime channel that could not be subscribed
type SubscriptionError struct {
	Channel string
	Reason  string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %s failed: %s", e.Channel, e.Reason)
}

func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}

// TimeoutError reports an execution that did not reach a terminal status in time.
// The execution keeps running remotely; AppID and ExecutionID can be used to
// fetch its results later.
type TimeoutError struct {
	AppID       string
	ExecutionID string
	Elapsed     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s of app %s did not finish within %s", e.ExecutionID, e.AppID, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrExecutionTimeout
}

// StatusCode returns the HTTP status of err if it wraps an *APIError, else 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
