package upstream

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an upstream failure.
type Kind int

const (
	KindNone Kind = iota
	// KindTransport covers network, DNS, TLS, and timeout failures.
	KindTransport
	// KindRejected is a non-success status from the service.
	KindRejected
	// KindMalformed is a response that could not be decoded.
	KindMalformed
	// KindCanceled means the caller's context ended.
	KindCanceled
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// TransportError wraps a failure to reach the service at all.
type TransportError struct {
	Service string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a non-2xx response. Message and DocumentationURL come
// from the service's JSON error body when one was returned.
type RejectedError struct {
	Service          string
	StatusCode       int
	Message          string
	DocumentationURL string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, e.Message)
}

// MalformedError is a response body that did not match the expected shape.
type MalformedError struct {
	Service string
	Err     error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Service, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Classify maps err onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return KindRejected
	}
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return KindMalformed
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return KindTransport
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return KindUnknown
}

// Retryable reports whether a failed read may be retried. Mutations are
// never retried automatically regardless of this result.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransport, KindRejected, KindMalformed:
		return true
	default:
		return false
	}
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool { return Classify(err) == KindRejected }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool { return Classify(err) == KindTransport }

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool { return Classify(err) == KindMalformed }

// IsNotFound reports whether err is a 404 rejection.
func IsNotFound(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected) && rejected.StatusCode == 404
}

// IsUnauthorized reports whether err is a 401 or 403 rejection.
func IsUnauthorized(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected) && (rejected.StatusCode == 401 || rejected.StatusCode == 403)
}
