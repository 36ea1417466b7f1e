package types

import (
	"errors"
	"fmt"
	"io/fs"
)

// Base error types
var (
	ErrAccessDenied     = errors.New("access denied")
	ErrNotFound         = errors.New("not found")
	ErrUnsafeCode       = errors.New("unsafe code")
	ErrMalformedRequest = errors.New("malformed request")
	ErrIO               = errors.New("io failure")
)

// ErrorKind is the closed set of failures a tool operation can raise.
// Process outcomes (timeouts, non-zero exits, spawn failures) are not errors;
// they are reported inside ExecutionResult.
type ErrorKind string

const (
	KindAccessDenied     ErrorKind = "access_denied"
	KindNotFound         ErrorKind = "not_found"
	KindUnsafeCode       ErrorKind = "unsafe_code"
	KindMalformedRequest ErrorKind = "malformed_request"
	KindIO               ErrorKind = "io"
)

// Error is a structured operation failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Path    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is against the base error types.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAccessDenied:
		return e.Kind == KindAccessDenied
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnsafeCode:
		return e.Kind == KindUnsafeCode
	case ErrMalformedRequest:
		return e.Kind == KindMalformedRequest
	case ErrIO:
		return e.Kind == KindIO
	}
	return false
}

// Payload is the wire shape of an Error.
type Payload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Op      string    `json:"op,omitempty"`
	Path    string    `json:"path,omitempty"`
	Details any       `json:"details,omitempty"`
}

// Payload returns the wire representation of the error.
func (e *Error) Payload() Payload {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return Payload{Kind: e.Kind, Message: msg, Op: e.Op, Path: e.Path, Details: e.Details}
}

func Malformed(op, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedRequest, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, path string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Path: path, Message: "no such file or directory"}
}

// FromOS classifies a file-system error for op on path.
func FromOS(op, path string, err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: KindNotFound, Op: op, Path: path, Message: "no such file or directory", Err: err}
	}
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}
