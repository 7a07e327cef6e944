package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindConfiguration  ErrorKind = "configuration"
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindNotFound       ErrorKind = "not_found"
	ErrorKindTransient      ErrorKind = "transient"
	ErrorKindTerminalRemote ErrorKind = "terminal_remote"
	ErrorKindInternal       ErrorKind = "internal"
)

// Error is the hub's typed error. Kind drives both the HTTP mapping at the
// controller boundary and the retry decision inside the components that own
// a retry policy.
type Error struct {
	Kind    ErrorKind
	Message string
	Details []string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// HTTPStatus maps the error kind to the status class the controllers return.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrorKindValidation:
		return 400
	case ErrorKindAuthentication:
		return 401
	case ErrorKindNotFound:
		return 404
	case ErrorKindTransient, ErrorKindTerminalRemote:
		return 502
	default:
		return 500
	}
}

func NewConfigurationError(message string) *Error {
	return &Error{Kind: ErrorKindConfiguration, Message: message}
}

func NewValidationError(message string, details ...string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message, Details: details}
}

func NewAuthenticationError(message string) *Error {
	return &Error{Kind: ErrorKindAuthentication, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message}
}

func NewTransientError(message string, err error) *Error {
	return &Error{Kind: ErrorKindTransient, Message: message, wrapped: err}
}

func NewTerminalRemoteError(message string, err error) *Error {
	return &Error{Kind: ErrorKindTerminalRemote, Message: message, wrapped: err}
}

func NewInternalError(message string, err error) *Error {
	return &Error{Kind: ErrorKindInternal, Message: message, wrapped: err}
}

// KindOf returns the kind of a typed error, or ErrorKindInternal for any
// other error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindInternal
}

func IsNotFound(err error) bool {
	return KindOf(err) == ErrorKindNotFound
}

func IsValidation(err error) bool {
	return KindOf(err) == ErrorKindValidation
}

func IsTransient(err error) bool {
	return KindOf(err) == ErrorKindTransient
}

func IsConfiguration(err error) bool {
	return KindOf(err) == ErrorKindConfiguration
}

func IsAuthentication(err error) bool {
	return KindOf(err) == ErrorKindAuthentication
}

// RetryableStatus reports whether an HTTP status from a remote target may be
// resolved by retrying. Client errors other than 429 are terminal.
func RetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == 429
}
