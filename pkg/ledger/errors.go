package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error in quotagate wraps exactly one of these, so callers
// can classify failures with errors.Is without knowing the concrete sentinel.
var (
	ErrValidation    = errors.New("validation error")
	ErrStateConflict = errors.New("state conflict")
	ErrSecurity      = errors.New("security error")
	ErrNotFound      = errors.New("not found")
	ErrUpstream      = errors.New("upstream error")
)

// Store-level sentinels
var (
	ErrDuplicate           = NewError(ErrStateConflict, "duplicate record")
	ErrInsufficientCredits = NewError(ErrStateConflict, "insufficient credits")
)

var kinds = []error{ErrValidation, ErrStateConflict, ErrSecurity, ErrNotFound, ErrUpstream}

// Error is a sentinel that belongs to a kind
type Error struct {
	Kind    error
	Message string
}

// NewError declares a sentinel of the given kind
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// detailError carries a user-facing message while still matching its sentinel
type detailError struct {
	sentinel error
	message  string
}

func (e *detailError) Error() string { return e.message }

func (e *detailError) Unwrap() error { return e.sentinel }

// Detailf returns an error whose message is the formatted text and which matches
// sentinel (and the sentinel's kind) under errors.Is.
func Detailf(sentinel error, format string, args ...interface{}) error {
	return &detailError{sentinel: sentinel, message: fmt.Sprintf(format, args...)}
}

// KindOf returns the error kind err belongs to, or nil for unclassified errors
// (persistence failures, programming errors).
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError reports whether err was caused by the caller rather than the system
func IsClientError(err error) bool {
	kind := KindOf(err)
	return kind == ErrValidation || kind == ErrStateConflict || kind == ErrSecurity || kind == ErrNotFound
}

// Message returns the user-facing text of the outermost domain error in err's
// chain, or "" when err carries none. Wrapping context added with fmt.Errorf is
// skipped.
func Message(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *detailError, *Error:
			return e.Error()
		}
	}
	return ""
}
