package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Resource string `json:"resource,omitempty"`
	Err      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code, so errors.Is(err, ErrPhotoNotFound)
// holds for any clone or wrap of the predefined value.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden  = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrConflict   = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss  = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Export taxonomy. The first four and ErrCancelled are fatal for a run; the
// photo errors are recovered per photo and surface as manifest warnings.
var (
	ErrInsufficientStorage = New("INSUFFICIENT_STORAGE", http.StatusInsufficientStorage, "insufficient free space on target volume")
	ErrPermissionDenied    = New("PERMISSION_DENIED", http.StatusForbidden, "target is not writable")
	ErrTemplateNotFound    = New("TEMPLATE_NOT_FOUND", http.StatusNotFound, "document template not found")
	ErrDocumentGeneration  = New("DOCUMENT_GENERATION_ERROR", http.StatusInternalServerError, "document generation failed")
	ErrPhotoNotFound       = New("PHOTO_NOT_FOUND", http.StatusNotFound, "photo not found")
	ErrImageDecodeFailed   = New("IMAGE_DECODE_FAILED", http.StatusUnprocessableEntity, "image decode failed")
	ErrCancelled           = New("EXPORT_CANCELLED", http.StatusConflict, "export cancelled")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// At returns a copy of err annotated with the stage and resource it failed on,
// wrapping cause when provided.
func At(err *Error, stage, resource string, cause error) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Stage = stage
	clone.Resource = resource
	if cause != nil {
		clone.Err = cause
	}
	return &clone
}

// HasCode reports whether err is an *Error carrying the given code.
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
