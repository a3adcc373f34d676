package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for handling and HTTP mapping
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindState         Kind = "state"
	KindDocker        Kind = "docker"
	KindNativeProcess Kind = "native_process"
	KindFileSystem    Kind = "file_system"
	KindInternal      Kind = "internal"
)

// Error carries a Kind alongside the message and an optional cause
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the error's classification
func (e *Error) Kind() Kind {
	return e.kind
}

// New returns an error of the given kind with a formatted message
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, preserving it for errors.Is/As chains.
// A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: message, cause: err}
}

// Convenience constructors, one per kind

func NotFound(format string, args ...interface{}) error {
	return New(KindNotFound, format, args...)
}

func Validation(format string, args ...interface{}) error {
	return New(KindValidation, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return New(KindConflict, format, args...)
}

func State(format string, args ...interface{}) error {
	return New(KindState, format, args...)
}

func Docker(err error, message string) error {
	return Wrap(KindDocker, err, message)
}

func NativeProcess(err error, message string) error {
	return Wrap(KindNativeProcess, err, message)
}

func FileSystem(err error, message string) error {
	return Wrap(KindFileSystem, err, message)
}

func Internal(err error, message string) error {
	return Wrap(KindInternal, err, message)
}

// GetKind extracts the classification from an error chain.
// Unclassified errors report KindInternal.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

func is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == kind
}

func IsNotFound(err error) bool   { return is(err, KindNotFound) }
func IsValidation(err error) bool { return is(err, KindValidation) }
func IsConflict(err error) bool   { return is(err, KindConflict) }
func IsState(err error) bool      { return is(err, KindState) }

// HTTPStatus maps an error chain onto the public status code scheme:
// validation 400, not-found 404, conflict and state 409, everything
// else 500.
func HTTPStatus(err error) int {
	switch GetKind(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
