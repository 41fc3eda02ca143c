// Package apperr defines the error taxonomy shared by the escrow core and
// the HTTP boundary. Callers wrap a sentinel with a user-facing message:
//
//	fmt.Errorf("%w: only the buyer can raise a dispute", apperr.ErrForbidden)
//
// and handlers map it to a status code with errors.Is.
package apperr

import (
	"errors"
	"strings"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidState  = errors.New("invalid state for this operation")
	ErrWindowExpired = errors.New("dispute window expired")
	ErrConflict      = errors.New("conflict")
	ErrUpstream      = errors.New("upstream service failed")
	ErrUnavailable   = errors.New("service not configured")
)

var sentinels = []error{
	ErrValidation,
	ErrNotFound,
	ErrForbidden,
	ErrInvalidState,
	ErrWindowExpired,
	ErrConflict,
	ErrUpstream,
	ErrUnavailable,
}

// Message returns the text after the sentinel prefix, so
// "not found: Transaction not found" becomes "Transaction not found".
// Errors that do not wrap a known sentinel return their full text.
func Message(err error) string {
	msg := err.Error()
	for _, s := range sentinels {
		if errors.Is(err, s) {
			if rest, ok := strings.CutPrefix(msg, s.Error()+": "); ok {
				return rest
			}
			return msg
		}
	}
	return msg
}

// IsKnown reports whether err wraps one of the taxonomy sentinels.
func IsKnown(err error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
