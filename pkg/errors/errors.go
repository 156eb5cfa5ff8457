package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation error")
	ErrInvariant  = errors.New("invariant violation")
	ErrBadRequest = errors.New("bad request")
	ErrInternal   = errors.New("internal server error")
)

// Kind classifies an AppError for callers that branch on failure category.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindInvariant  Kind = "invariant"
	KindBadRequest Kind = "bad_request"
	KindInternal   Kind = "internal"
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Kind       Kind              `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil && !isSentinel(e.Err) {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails merges details into an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key, value string) *AppError {
	return e.WithDetails(map[string]string{key: value})
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Kind:       KindInternal,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Common error constructors

// NotFound reports a missing entity. The id, when given, is recorded in Details.
func NotFound(resource string, id ...string) *AppError {
	e := &AppError{
		Err:        ErrNotFound,
		Kind:       KindNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Details:    map[string]string{"resource": resource},
	}
	if len(id) > 0 && id[0] != "" {
		e.Details["id"] = id[0]
	}
	return e
}

// Validation reports malformed input or a requested quantity the current state cannot satisfy.
func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Kind:       KindValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Invariant reports an operation that is illegal for the current state of an entity.
func Invariant(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrInvariant,
		Kind:       KindInvariant,
		Code:       "INVARIANT_VIOLATION",
		Message:    message,
		StatusCode: http.StatusConflict,
		Details:    details,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Kind:       KindBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Kind:       KindInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// KindOf returns the kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}

func isSentinel(err error) bool {
	switch err {
	case ErrNotFound, ErrValidation, ErrInvariant, ErrBadRequest, ErrInternal:
		return true
	}
	return false
}
