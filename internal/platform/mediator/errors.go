package mediator

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx response from the mediator. 4xx codes mean the
// request itself is bad and will never succeed; 5xx codes mean the mediator
// or a registry behind it is unhealthy and the call may be retried.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Location   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mediator %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500
}

// TransportError is a network-level failure (dial, timeout, connection
// reset). Always retryable.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mediator %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient classifies an error from the client: transport failures and
// 5xx responses are transient, 4xx responses are permanent. Errors that did
// not come from the client (marshalling, decoding) are permanent.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return false
}

// IsPermanent reports a definitive client-side rejection (4xx).
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500
	}
	return false
}
