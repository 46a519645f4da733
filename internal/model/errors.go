package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors surfaced at the operation boundary
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindEmbedding  ErrorKind = "embedding"
	KindGeneration ErrorKind = "generation"
	KindIntegrity  ErrorKind = "integrity"
	KindInternal   ErrorKind = "internal"
)

// Error is the structured error returned by engine operations
type Error struct {
	Kind    ErrorKind              `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair and returns the same error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError builds an Error of the given kind
func NewError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func ValidationError(format string, args ...interface{}) *Error {
	return NewError(KindValidation, nil, format, args...)
}

func NotFoundError(what, id string) *Error {
	return NewError(KindNotFound, nil, "%s %s not found", what, id).WithDetail(what+"_id", id)
}

// BackendError reports a failed embedding or generation call with the backend identity
func BackendError(kind ErrorKind, backend string, err error) *Error {
	return NewError(kind, err, "%s backend %q failed", kind, backend).WithDetail("backend", backend)
}

func IntegrityError(err error, format string, args ...interface{}) *Error {
	return NewError(KindIntegrity, err, format, args...)
}

// AsError unwraps err into an *Error, wrapping unknown errors as internal
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
