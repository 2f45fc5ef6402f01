// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apierr defines the error taxonomy shared by the transport, retry
// and backend packages.
//
// Every failure surfaced by the request layer is an *Error carrying a Kind.
// The transport layer only classifies; the backend façade decides the final
// human-readable message.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind classifies a request failure.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindTransport means the request could not be delivered or the
	// connection failed before a response arrived.
	KindTransport
	// KindTimeout means the per-call deadline elapsed.
	KindTimeout
	// KindServer is a 5xx response.
	KindServer
	// KindClient is a 4xx response.
	KindClient
	// KindApplication is a 2xx response that reports failure in its body.
	KindApplication
	// KindParse is a response body that is not the expected JSON.
	KindParse
	// KindCanceled means the caller's context was canceled.
	KindCanceled
	// KindValidation means the request was rejected locally and never sent.
	KindValidation
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindApplication:
		return "application"
	case KindParse:
		return "parse"
	case KindCanceled:
		return "canceled"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a classified request failure.
//
// Error() returns Message verbatim so callers can show it to a user as-is.
// Op and Status are for logs and programmatic checks.
type Error struct {
	Kind    Kind
	Message string
	Status  int    // HTTP status, 0 when no response was received
	Op      string // logical operation, e.g. "login"
	Cause   error
}

// Error returns the human-readable message.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Kind.String() + " error"
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. This lets
// callers write errors.Is(err, apierr.ErrTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Status == 0 && t.Op == "" && t.Kind == e.Kind
}

// Detail formats the error with its operation, kind and status for logs.
func (e *Error) Detail() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Status != 0 {
		s = fmt.Sprintf("%s (HTTP %d)", s, e.Status)
	}
	return s + ": " + e.Error()
}

// Sentinel kind markers for errors.Is.
var (
	ErrTransport   = &Error{Kind: KindTransport}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrServer      = &Error{Kind: KindServer}
	ErrClient      = &Error{Kind: KindClient}
	ErrApplication = &Error{Kind: KindApplication}
	ErrParse       = &Error{Kind: KindParse}
	ErrCanceled    = &Error{Kind: KindCanceled}
	ErrValidation  = &Error{Kind: KindValidation}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// FromStatus classifies a non-2xx HTTP status. Message is the server's
// message, possibly empty.
func FromStatus(status int, message string) *Error {
	kind := KindClient
	if status >= 500 {
		kind = KindServer
	}
	return &Error{Kind: kind, Status: status, Message: message}
}

// =============================================================================
// HELPERS
// =============================================================================

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
// Bare context errors are classified as well.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsRetryable reports whether err is transient: a timeout, a transport
// failure or a 5xx response. 4xx (including 401 and 403), parse and
// application errors are never retryable.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransport, KindServer:
		return true
	default:
		return false
	}
}

// IsAuthFailure reports whether err is a 401 or 403 response.
func IsAuthFailure(err error) bool {
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsNetwork reports whether err means the backend could not be reached
// or did not answer in time.
func IsNetwork(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindTimeout, KindCanceled:
		return true
	}
	return false
}
