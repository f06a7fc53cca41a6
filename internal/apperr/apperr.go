// Package apperr classifies failures at the command and transport boundaries
// so callers can decide what to show without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an Error.
type Kind int

const (
	// KindValidation is malformed local input; no request was sent.
	KindValidation Kind = iota + 1
	// KindNotFound is a reference to an event the client does not know.
	KindNotFound
	// KindInvalidTransition is a command against a session that cannot take it.
	KindInvalidTransition
	// KindNetwork means the request did not complete.
	KindNetwork
	// KindRejected means the server answered with an error status.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrRejected          = &Error{Kind: KindRejected}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation, e.g. "checkin".
	Op string
	// Status is the HTTP status for KindRejected.
	Status int
	// Reason is human-readable detail: the server's reason text for
	// KindRejected, the local complaint for KindValidation.
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNetwork)
// works regardless of Op or Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(op, reason string) error {
	return &Error{Kind: KindValidation, Op: op, Reason: reason}
}

func NotFound(op, reason string) error {
	return &Error{Kind: KindNotFound, Op: op, Reason: reason}
}

func InvalidTransition(op, reason string) error {
	return &Error{Kind: KindInvalidTransition, Op: op, Reason: reason}
}

func Network(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func Rejected(op string, status int, reason string) error {
	return &Error{Kind: KindRejected, Op: op, Status: status, Reason: reason}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Message renders err as the one-line notification shown to a leader.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong: " + err.Error()
	}
	switch e.Kind {
	case KindValidation:
		return "Invalid input: " + e.Reason
	case KindNotFound:
		return "Not found: " + e.Reason
	case KindInvalidTransition:
		return "Not allowed: " + e.Reason
	case KindNetwork:
		return "Could not reach the server. Please try again."
	case KindRejected:
		if e.Reason != "" {
			return "Server rejected the request: " + e.Reason
		}
		return fmt.Sprintf("Server rejected the request (status %d)", e.Status)
	default:
		return e.Error()
	}
}
