// Package fault defines the error taxonomy shared by all settlement
// components.
//
// Every business error carries a Kind so that the HTTP layer can map it
// deterministically to a transport status without inspecting error text.
// Store conflicts and guard-condition violations become Validation or
// Conflict for user-triggered paths; webhook and scheduler paths recover
// them locally as no-ops instead of surfacing them.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport-level mapping.
type Kind string

const (
	// KindValidation is bad input or an illegal state transition attempt.
	KindValidation Kind = "validation_error"
	// KindPermission is an actor lacking rights over the entity.
	KindPermission Kind = "permission_error"
	// KindNotFound is a missing entity.
	KindNotFound Kind = "not_found"
	// KindConflict is a lost compare-and-set race; the caller should retry.
	KindConflict Kind = "conflict"
	// KindExternal is a transient processor or provider failure.
	KindExternal Kind = "external_service_error"
	// KindSignature is a webhook authenticity failure.
	KindSignature Kind = "signature_error"
)

// Error is a tagged business error.
type Error struct {
	Kind    Kind
	Field   string // offending request field, if any
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Field creates a validation error attributed to a request field.
func Field(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// Wrap tags an underlying error with a kind and message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or "" if err carries no kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to its transport status code. Unknown kinds map
// to 500 so unexpected failures are never mistaken for client errors.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	case KindSignature:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
