// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package apierr defines the error taxonomy shared by the session, resource
// authorization, transport, and admin-socket layers, and the HTTP status
// each kind maps to at the adapter boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error kinds enumerated by the core's error taxonomy.
// A Kind is not itself an error; wrap it with New or a package-level
// sentinel and errors.Is/errors.As against those.
type Kind int

const (
	// KindNotAuthenticated covers a missing, expired, or IP-mismatched token.
	KindNotAuthenticated Kind = iota
	// KindPermissionDenied covers a path-walk or role-check failure.
	KindPermissionDenied
	// KindMalformed covers a bad path, bad permission string, non-alphanumeric
	// username, or malformed request body.
	KindMalformed
	// KindNotFound covers a path with no attribute, or a missing subtitle/file.
	KindNotFound
	// KindConflict covers a duplicate user or a duplicate Include attribute.
	KindConflict
	// KindInternal covers unexpected internal failures.
	KindInternal
)

// String renders the kind's name for logging.
func (k Kind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindPermissionDenied:
		return "permission_denied"
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code the REST adapter maps this kind to.
func (k Kind) Status() int {
	switch k {
	case KindNotAuthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindMalformed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a taxonomy-tagged error. It wraps an optional underlying cause
// so callers can still errors.Unwrap through to the root failure while the
// adapter layer only needs to inspect Kind.
type Error struct {
	Kind Kind
	Op   string // the failing operation, e.g. "session.Validate"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy-tagged error for op, optionally wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, otherwise it returns KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Named sentinel causes referenced by 's failure taxonomy. These are
// wrapped into an *Error with the appropriate Kind at the call site rather
// than compared directly, so callers should use errors.Is against these
// values, not switch on Kind alone, when they need the precise cause.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrChallengeMissing  = errors.New("challenge missing or expired")
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrTokenMissing      = errors.New("token missing or expired")
	ErrIPMismatch        = errors.New("token ip mismatch")
	ErrPrivilegeExceeded = errors.New("privilege exceeded")
	ErrUsernameInvalid   = errors.New("username invalid")
	ErrDuplicateUser     = errors.New("duplicate user")
	ErrPathTraversal     = errors.New("path traversal rejected")
	ErrAttributeExists   = errors.New("attribute already exists")
	ErrRootRequired      = errors.New("operation requires root")
)
