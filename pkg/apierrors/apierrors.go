// Package apierrors defines the stable error taxonomy of the Bitrix24 client.
//
// Every failure that escapes the public API is an *Error tagged with a Kind.
// Kinds describe what went wrong in protocol terms, not in terms of the Go
// machinery that detected it, so callers can branch on them without string
// matching.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind is a stable error category.
type Kind string

const (
	// KindNoInstallApp means the credential store returned no valid record
	// for the tenant.
	KindNoInstallApp Kind = "no_install_app"
	// KindModuleError means an internal invariant violation or a recovered
	// panic escaped into the orchestrator.
	KindModuleError Kind = "module_error"
	// KindNetworkError means the transport gave up on a network-level
	// failure, either immediately (fatal) or after exhausting its attempts
	// (retryable).
	KindNetworkError Kind = "network_error"
	// KindClientError is a 4xx from the server, excluding expired_token
	// which is absorbed by the refresh path.
	KindClientError Kind = "client_error"
	// KindServerError is a 5xx from the server after retries were exhausted.
	KindServerError Kind = "server_error"
	// KindRedirectError means a redirect chain exceeded the attempt budget
	// or a 3xx response carried no Location header.
	KindRedirectError Kind = "redirect_error"
	// KindResponseParse means a response body could not be decoded.
	KindResponseParse Kind = "response_parse_error"
	// KindUnexpectedStatus is an HTTP status outside 2xx-5xx.
	KindUnexpectedStatus Kind = "unexpected_status"
	// KindInstallError means the install handler failed or the payload
	// shape was unrecognized.
	KindInstallError Kind = "install_error"
	// KindQueueOverflow means the per-tenant admission queue hit its cap.
	KindQueueOverflow Kind = "queue_overflow"
	// KindCanceled means the caller's context expired while the request
	// was still waiting in the admission queue.
	KindCanceled Kind = "canceled"
)

// Error is the structured envelope surfaced by the public API.
type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status of the offending response, 0 when the
	// failure happened below the HTTP layer.
	Status int
	// Body is the decoded response body when one was available.
	Body map[string]any
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return string(e.Kind)
	}
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind, so errors.Is(err, apierrors.New(KindServerError, ""))
// holds for any server_error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an existing error with a kind and message. If err is
// already an *Error its kind is preserved and only the message changes.
func Wrap(err error, kind Kind, msg string) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Message: msg, Status: existing.Status, Body: existing.Body, Err: err}
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithStatus attaches the HTTP status of the offending response.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithBody attaches the decoded response body.
func (e *Error) WithBody(body map[string]any) *Error {
	e.Body = body
	return e
}

// HasKind reports whether err is an *Error with the given kind.
func HasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
