package validation

import (
	"errors"
	"fmt"
)

// Code classifies an engine failure.
type Code string

const (
	// Not-found.
	CodeValidationNotFound Code = "ValidationNotFound"
	CodeExpertNotFound     Code = "ExpertNotFound"
	CodeFeedbackNotFound   Code = "FeedbackNotFound"
	// State.
	CodeInvalidState            Code = "InvalidState"
	CodeStateTransitionDenied   Code = "StateTransitionDenied"
	CodeConsensusAlreadyReached Code = "ConsensusAlreadyReached"
	// Input.
	CodeMissingRequiredField Code = "MissingRequiredField"
	CodeInvalidData          Code = "InvalidData"
	// Duplication.
	CodeDuplicateEntry Code = "DuplicateEntry"
	// Lifecycle.
	CodeSystemNotInitialized Code = "SystemNotInitialized"
	// Operational.
	CodeOperationFailed            Code = "OperationFailed"
	CodeConsensusCalculationFailed Code = "ConsensusCalculationFailed"
	CodeNotificationFailed         Code = "NotificationFailed"
	CodeTransactionFailed          Code = "TransactionFailed"
)

// Error is the typed failure every engine operation returns for expected
// business outcomes. It is never panicked.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError builds a typed failure.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches one detail entry, returning the error for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// CodeOf extracts the failure code, mapping untyped errors to OperationFailed.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return CodeOperationFailed
}

// AsError converts any error into a typed failure. Untyped errors are
// wrapped as OperationFailed with the original message preserved in details.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return NewError(CodeOperationFailed, "internal operation failed").
		WithDetails("cause", err.Error()).
		WithCause(err)
}

// NotFound builds a not-found failure for the given entity kind.
func NotFound(code Code, id string) *Error {
	return NewError(code, "no record for id").WithDetails("id", id)
}

// MissingField builds the input failure for an absent required field.
func MissingField(field string) *Error {
	return NewError(CodeMissingRequiredField, "required field is missing").
		WithDetails("field", field)
}

// InvalidField builds the input failure for a malformed field value.
func InvalidField(field, reason string) *Error {
	return NewError(CodeInvalidData, "field value is invalid").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// TransitionDenied builds the failure for an illegal lifecycle transition,
// carrying the attempted pair and the legal target set.
func TransitionDenied(id string, from, to LifecycleState, legal []LifecycleState) *Error {
	return NewError(CodeStateTransitionDenied, "transition not allowed").
		WithDetails("id", id).
		WithDetails("from", from).
		WithDetails("to", to).
		WithDetails("legal", legal)
}
