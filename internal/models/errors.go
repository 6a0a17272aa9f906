package models

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable category callers branch on. Messages are for humans.
type ErrorCode string

const (
	// CodeUnavailable indicates no cloud identity or container is reachable.
	CodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// CodeNotFound indicates a requested cloud item does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodePreconditionFailed indicates a missing parent directory or a path
	// outside the container root.
	CodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"

	// CodeIOFailure indicates an underlying copy, create or remove error.
	CodeIOFailure ErrorCode = "IO_FAILURE"

	// CodeTimeout indicates a transfer did not reach a terminal state in time.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInternal indicates an unclassified error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StorageError carries an ErrorCode alongside the wrapped cause.
type StorageError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewError(code ErrorCode, message string) *StorageError {
	return &StorageError{Code: code, Message: message}
}

func WrapError(code ErrorCode, err error, format string, args ...any) *StorageError {
	return &StorageError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func ErrUnavailable() *StorageError {
	return NewError(CodeUnavailable, "cloud container not available")
}

func ErrNotFound(path string) *StorageError {
	return NewError(CodeNotFound, fmt.Sprintf("file not found: %s", path))
}

func ErrParentMissing(path string) *StorageError {
	return NewError(CodePreconditionFailed, fmt.Sprintf("parent directory missing: %s", path))
}

func ErrOutsideContainer(path string) *StorageError {
	return NewError(CodePreconditionFailed, fmt.Sprintf("invalid cloud path: %s", path))
}

// CodeOf returns the ErrorCode of err, or CodeInternal if err carries none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
