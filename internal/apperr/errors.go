// Package apperr defines the tagged errors returned by engine operations.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable category of an error.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindDependency        Kind = "dependency_failure"
	KindInternal          Kind = "internal"
)

// Conflict reasons.
const (
	ReasonSlotTaken             = "slot_taken"
	ReasonOutsideAvailability   = "outside_availability"
	ReasonStaleProposal         = "stale_proposal"
	ReasonActiveTimeChange      = "active_time_change"
	ReasonSpaceUnavailable      = "space_unavailable"
	ReasonSpaceHasActiveBooking = "space_has_active_bookings"
	ReasonPaymentCaptured       = "payment_captured"
	ReasonPayoutFinalized       = "payout_finalized"
)

// Error carries a kind, an optional machine reason and a human message.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindDependency || e.Kind == KindInternal
}

// PublicMessage hides internal details from callers.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return "internal error"
	}
	return e.Message
}

func newf(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, "", format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, "", format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, "", format, args...)
}

func Conflict(reason, format string, args ...any) *Error {
	return newf(KindConflict, reason, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return newf(KindInvalidTransition, "", format, args...)
}

// Dependency wraps a payment processor or other collaborator failure.
func Dependency(err error, format string, args ...any) *Error {
	e := newf(KindDependency, "", format, args...)
	e.Err = err
	return e
}

// Internal wraps a persistence or programming failure.
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, "", format, args...)
	e.Err = err
	return e
}

// As extracts an *Error from err. Untagged errors become Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "%v", err)
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// ReasonOf returns the reason of a tagged error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps a kind onto a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
