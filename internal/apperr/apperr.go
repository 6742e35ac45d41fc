// Package apperr defines the error taxonomy shared by all request
// handlers. Every error that reaches a client is one of these kinds; raw
// device or storage errors never cross the HTTP boundary unmapped.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure with a stable wire code.
type Kind string

const (
	AuthDenied         Kind = "AUTH_DENIED"
	ScopeDenied        Kind = "SCOPE_DENIED"
	AdminOnly          Kind = "ADMIN_ONLY"
	ConfigLoadFailed   Kind = "CONFIG_LOAD_FAILED"
	RoomNotConfigured  Kind = "ROOM_NOT_CONFIGURED"
	RouteNotFound      Kind = "ROUTE_NOT_IMPLEMENTED"
	DeviceTimeout      Kind = "DEVICE_TIMEOUT"
	DeviceError        Kind = "DEVICE_ERROR"
	Validation         Kind = "VALIDATION_ERROR"
	DuplicateUser      Kind = "DUPLICATE_USER"
	ExternalUser       Kind = "EXTERNAL_USER_IMMUTABLE"
	NotFound           Kind = "NOT_FOUND"
	Internal           Kind = "INTERNAL_ERROR"
)

// Error is an application error with a kind and a human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an application error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an application error around an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from any error, defaulting to Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// MessageOf extracts the human message from any error.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case AuthDenied:
		return http.StatusUnauthorized
	case ScopeDenied, AdminOnly:
		return http.StatusForbidden
	case NotFound, RoomNotConfigured, RouteNotFound:
		return http.StatusNotFound
	case Validation, DuplicateUser, ExternalUser:
		return http.StatusBadRequest
	case DeviceTimeout:
		return http.StatusGatewayTimeout
	case ConfigLoadFailed, DeviceError, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
