// Package errs defines the structured error taxonomy shared by the pipeline
// stages. Input and decode errors abort the pipeline; geometric and
// verification failures are data and never pass through here.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies an error class.
type Code string

const (
	// Input errors, rejected before any extraction work.
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge      Code = "FILE_TOO_LARGE"

	// Decode errors.
	CodeDecodeFailed      Code = "DECODE_FAILED"
	CodeDimensionMismatch Code = "DIMENSION_MISMATCH"

	// Rendering and persistence.
	CodeRasterizeFailed Code = "RASTERIZE_FAILED"
	CodeStorageFailed   Code = "STORAGE_FAILED"
	CodeNotFound        Code = "NOT_FOUND"

	// Export was requested but the gate denied it.
	CodeExportDenied Code = "EXPORT_DENIED"
)

// Error is a structured pipeline error.
type Error struct {
	Code      Code
	Message   string
	Timestamp time.Time
	Details   map[string]any
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, errs.New(errs.CodeNotFound, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// Wrap creates an error with the given code and cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Cause = cause
	return e
}

// With attaches a detail and returns the receiver.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// NewDimensionMismatch reports expected-vs-actual pixel dimensions.
func NewDimensionMismatch(what string, expectedW, expectedH, actualW, actualH int) *Error {
	return New(CodeDimensionMismatch, "%s is %dx%d, expected %dx%d",
		what, actualW, actualH, expectedW, expectedH).
		With("expected_width", expectedW).
		With("expected_height", expectedH).
		With("actual_width", actualW).
		With("actual_height", actualH)
}

// ToMap converts the error to a map for JSON responses and storage.
func (e *Error) ToMap() map[string]any {
	result := map[string]any{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	for k, v := range e.Details {
		result[k] = v
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}
	return result
}
