// Package apierror defines the error taxonomy shared by the control surface.
// Every error names the entity kind and name it refers to so an operator can
// correct and re-issue the request.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a control-surface error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidArgument
	KindInvalidState
	KindUnavailable
	KindInternal
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind to an HTTP status code for the admin surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindInvalidState:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified control-surface error bound to a named entity.
type Error struct {
	Kind     Kind
	Resource string // entity kind: "database", "partition", "chunk", "operation"
	Name     string // entity name or id
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Resource != "" {
		s += " " + e.Resource
	}
	if e.Name != "" {
		s += " " + e.Name
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports that the named entity does not exist at the expected state.
func NotFound(resource, name string) *Error {
	return &Error{Kind: KindNotFound, Resource: resource, Name: name}
}

// AlreadyExists reports a name or identifier collision.
func AlreadyExists(resource, name string) *Error {
	return &Error{Kind: KindAlreadyExists, Resource: resource, Name: name}
}

// AlreadyExistsf is AlreadyExists with conflict detail for the caller.
func AlreadyExistsf(resource, name, format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyExists, Resource: resource, Name: name, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf reports a malformed field on the named entity.
func InvalidArgumentf(resource, name, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Resource: resource, Name: name, Msg: fmt.Sprintf(format, args...)}
}

// InvalidStatef reports an operation that is not legal in the current lifecycle state.
func InvalidStatef(resource, name, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Resource: resource, Name: name, Msg: fmt.Sprintf(format, args...)}
}

// Unavailablef reports that the server or database has not finished bootstrapping.
func Unavailablef(resource, name, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Resource: resource, Name: name, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps a durable storage or catalog I/O failure.
func Internal(resource, name string, err error) *Error {
	return &Error{Kind: KindInternal, Resource: resource, Name: name, Err: err}
}

// KindOf returns the kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is classified NotFound.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAlreadyExists reports whether err is classified AlreadyExists.
func IsAlreadyExists(err error) bool {
	return KindOf(err) == KindAlreadyExists
}

// IsInvalidState reports whether err is classified InvalidState.
func IsInvalidState(err error) bool {
	return KindOf(err) == KindInvalidState
}
