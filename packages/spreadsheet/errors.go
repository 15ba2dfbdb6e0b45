package spreadsheet

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalCell is returned when a reference cannot be resolved to a
	// value: the #REF! sentinel, a forbidden cross-mode reference, or a
	// sheet that is not registered
	ErrIllegalCell = errors.New("illegal cell reference")

	// ErrArgumentType is returned when a range reaches a position that only
	// takes single values, or a value of an unsupported kind is stored
	ErrArgumentType = errors.New("illegal argument type")

	// ErrNotParameter is returned when a token is neither cell syntax nor a
	// bound parameter name
	ErrNotParameter = errors.New("not a parameter")

	ErrSheetExists    = errors.New("sheet already exists")
	ErrSheetNotFound  = errors.New("sheet not found")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidFormula = errors.New("invalid formula")

	// errBeyondSheet marks cell syntax naming a row or column past the last
	// one a sheet has
	errBeyondSheet = fmt.Errorf("%w: beyond the last row or column", ErrInvalidAddress)
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by APIs that do not return enough error
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., sheet or parameter) was
	// not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes the sentinel the error was built from
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// appError converts an engine error into an AppError, picking the code from
// the sentinel it wraps
func appError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	code := Unknown
	switch {
	case errors.Is(err, ErrSheetExists):
		code = AlreadyExists
	case errors.Is(err, ErrSheetNotFound), errors.Is(err, ErrNotParameter):
		code = NotFound
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidFormula), errors.Is(err, ErrArgumentType):
		code = InvalidArgument
	case errors.Is(err, ErrIllegalCell):
		code = FailedPrecondition
	}
	return &AppError{Code: code, Message: err.Error(), Err: err}
}

// CodeOf returns the AppErrorCode carried by err, OK for nil and Unknown
// for errors that are not application errors
func CodeOf(err error) AppErrorCode {
	if err == nil {
		return OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}
