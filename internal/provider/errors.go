package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies upstream failures for propagation policy decisions
type Kind string

const (
	KindValidation Kind = "validation"
	KindUnauth     Kind = "unauthenticated"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "notfound"
	KindConflict   Kind = "conflict"
	KindCapacity   Kind = "capacity-unavailable"
	KindTransient  Kind = "upstream-transient"
	KindPermanent  Kind = "upstream-permanent"
	KindInternal   Kind = "internal"
)

// Error is a structured upstream error. Message carries the upstream's own
// error text (or the HTTP status text); handlers map Kind to their own
// messages, so raw upstream text never crosses the handler boundary.
type Error struct {
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s (%s)", e.Message, e.Kind)
}

// ErrKind extracts the kind from an error chain; internal if unclassified
func ErrKind(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind
func IsKind(err error, kind Kind) bool {
	return ErrKind(err) == kind
}

// Transient reports whether the error is worth retrying on a later tick
func Transient(err error) bool {
	k := ErrKind(err)
	return k == KindTransient || k == KindCapacity
}

func classify(status int, code string) Kind {
	switch {
	case code == codeInsufficientCapacity:
		return KindCapacity
	case status == http.StatusUnauthorized:
		return KindUnauth
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindPermanent
	case status == http.StatusTooManyRequests, status >= 500:
		return KindTransient
	}
	return KindPermanent
}
