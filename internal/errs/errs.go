package errs

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an engine error.
type Code string

const (
	UnknownKind                  Code = "UnknownKind"
	NotFound                     Code = "NotFound"
	ValidationError              Code = "ValidationError"
	VersionConsistencyError      Code = "VersionConsistencyError"
	ObjectCapExceeded            Code = "ObjectCapExceeded"
	ConflictingRelationOperation Code = "ConflictingRelationOperation"
	PermissionDenied             Code = "PermissionDenied"
	Internal                     Code = "Internal"
)

// Error is the error value returned across the engine's components.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates an error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so sentinel-style checks
// like errors.Is(err, &Error{Code: NotFound}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// GRPCStatus lets status.FromError map engine errors to grpc codes.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Error())
}

func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case NotFound:
		return codes.NotFound
	case ValidationError, ConflictingRelationOperation:
		return codes.InvalidArgument
	case VersionConsistencyError:
		return codes.FailedPrecondition
	case ObjectCapExceeded:
		return codes.ResourceExhausted
	case PermissionDenied:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

// HTTPStatus maps the error code to an http status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case NotFound:
		return http.StatusNotFound
	case ValidationError, ConflictingRelationOperation:
		return http.StatusBadRequest
	case VersionConsistencyError:
		return http.StatusConflict
	case ObjectCapExceeded:
		return http.StatusTooManyRequests
	case PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the code of err, or Internal when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
