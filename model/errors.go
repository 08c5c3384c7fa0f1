package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest       = "BAD_REQUEST"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrForbidden        = "FORBIDDEN"
	ErrNotFound         = "NOT_FOUND"
	ErrConflict         = "CONFLICT"
	ErrValidationError  = "VALIDATION_ERROR"
	ErrInternalError    = "INTERNAL_ERROR"
	ErrStoreUnavailable = "STORE_UNAVAILABLE"
)

// Designer-specific error codes.
const (
	ErrSessionNotFound    = "SESSION_NOT_FOUND"
	ErrSessionClosed      = "SESSION_CLOSED"
	ErrSubmitInProgress   = "SUBMIT_IN_PROGRESS"
	ErrCannotSave         = "CANNOT_SAVE"
	ErrKeyLocked          = "KEY_LOCKED"
	ErrFieldOutOfRange    = "FIELD_OUT_OF_RANGE"
	ErrDesignerNotDefined = "DESIGNER_NOT_DEFINED"
	ErrTooManySessions    = "TOO_MANY_SESSIONS"
)

// ErrorEnvelope is the standard error response envelope returned by the
// designer service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a single validation problem. PanelIndex and
// FieldIndex locate the problem inside a designer so it can be mapped back
// onto the panel that owns it; either may be nil.
type FieldError struct {
	Field      string `json:"field,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	PanelIndex *int   `json:"panel_index,omitempty"`
	FieldIndex *int   `json:"field_index,omitempty"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewStoreUnavailableError returns a STORE_UNAVAILABLE error.
func NewStoreUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStoreUnavailable,
		Message: "The domain store is temporarily unavailable",
	}
}

// NewSessionNotFoundError returns a SESSION_NOT_FOUND error.
func NewSessionNotFoundError(sessionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionNotFound,
		Message: fmt.Sprintf("designer session %q not found", sessionID),
	}
}

// NewSessionClosedError returns a SESSION_CLOSED error.
func NewSessionClosedError(sessionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionClosed,
		Message: fmt.Sprintf("designer session %q is closed", sessionID),
	}
}

// NewSubmitInProgressError returns a SUBMIT_IN_PROGRESS error.
func NewSubmitInProgressError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSubmitInProgress,
		Message: "A save is already in progress for this designer",
	}
}

// NewCannotSaveError returns a CANNOT_SAVE error.
func NewCannotSaveError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCannotSave,
		Message: "The designer has invalid panels and cannot be saved",
	}
}

// NewKeyLockedError returns a KEY_LOCKED error.
func NewKeyLockedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrKeyLocked, Message: msg}
}

// NewFieldOutOfRangeError returns a FIELD_OUT_OF_RANGE error.
func NewFieldOutOfRangeError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrFieldOutOfRange, Message: msg}
}

// NewDesignerNotDefinedError returns a DESIGNER_NOT_DEFINED error.
func NewDesignerNotDefinedError(kind string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDesignerNotDefined,
		Message: fmt.Sprintf("no designer is defined for kind %q", kind),
	}
}

// NewTooManySessionsError returns a TOO_MANY_SESSIONS error.
func NewTooManySessionsError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTooManySessions,
		Message: "Too many open designer sessions; try again later",
	}
}

// IntPtr returns a pointer to i. Used to fill FieldError indexes.
func IntPtr(i int) *int {
	return &i
}
