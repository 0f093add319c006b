// Package errs provides the unified error type used across all of cosbrowser.
//
// Every subsystem (filestore, listing, preview, server, …) wraps its native
// errors into *errs.Error before returning them to callers. Callers use the
// Is* predicates to handle errors without importing provider-specific packages.
//
// Usage:
//
//	// In a provider, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "list page timed out", sdkErr)
//
//	// In a caller, check the error kind:
//	if errs.IsRemote(err) {
//	    log.Warn("listing unavailable")
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing backend-specific codes.
// All backends (MinIO/COS, AWS S3, HTTP preview, …) map their native errors
// to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no object, no bucket
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / auth failure
	ErrKindRemote                   // a remote listing failed as a whole
	ErrKindTooLarge                 // payload exceeds a size ceiling
	ErrKindDisabled                 // feature disabled or configuration incomplete
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindRemote:
		return "remote"
	case ErrKindTooLarge:
		return "too_large"
	case ErrKindDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all cosbrowser subsystems.
// Providers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original backend-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing object or bucket.
func IsNotFound(err error) bool {
	return HasKind(err, ErrKindNotFound)
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return HasKind(err, ErrKindTimeout)
}

// IsConnectionFailed reports whether err is a connectivity failure.
func IsConnectionFailed(err error) bool {
	return HasKind(err, ErrKindConnectionFailed)
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return HasKind(err, ErrKindQueryFailed)
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return HasKind(err, ErrKindInvalidInput)
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return HasKind(err, ErrKindPermissionDenied)
}

// IsRemote reports whether err is a failed remote listing.
func IsRemote(err error) bool {
	return HasKind(err, ErrKindRemote)
}

// IsTooLarge reports whether err signals a payload over its size ceiling.
func IsTooLarge(err error) bool {
	return HasKind(err, ErrKindTooLarge)
}

// IsDisabled reports whether err signals a disabled or incomplete configuration.
func IsDisabled(err error) bool {
	return HasKind(err, ErrKindDisabled)
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// HasKind reports whether any *Error in err's chain has the given kind.
// A remote failure wrapping a permission error matches both kinds.
func HasKind(err error, kind ErrKind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}
