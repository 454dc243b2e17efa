// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Perpetua.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Perpetua errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidPurpose indicates an agent was constructed without exactly one purpose.
	CodeInvalidPurpose ErrorCode = "INVALID_PURPOSE"

	// CodeInvalidState indicates a lifecycle operation was called from the wrong state.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeInitialization indicates the runtime could not be initialized.
	CodeInitialization ErrorCode = "INITIALIZATION_FAILED"

	// CodeHandlerFailure indicates an event handler returned an error or panicked.
	CodeHandlerFailure ErrorCode = "HANDLER_FAILED"

	// CodePersistence indicates the context store rejected a write or read.
	CodePersistence ErrorCode = "PERSISTENCE_FAILED"

	// CodeUnavailable indicates the runtime is not accepting work.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeContextLost indicates the caller context was canceled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeDeployment indicates the deployment orchestrator could not be run.
	CodeDeployment ErrorCode = "DEPLOYMENT_FAILED"
)

// PerpetuaError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type PerpetuaError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // HTTP status for the admin API
}

// Error implements the error interface.
func (e *PerpetuaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *PerpetuaError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a PerpetuaError carrying the same code.
// It lets sentinel values such as ErrUnavailable match wrapped instances.
func (e *PerpetuaError) Is(target error) bool {
	t, ok := target.(*PerpetuaError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *PerpetuaError) MarshalJSON() ([]byte, error) {
	type Alias PerpetuaError
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new PerpetuaError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *PerpetuaError {
	return &PerpetuaError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *PerpetuaError) WithContext(key string, value interface{}) *PerpetuaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *PerpetuaError) WithAttribute(key, value string) *PerpetuaError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *PerpetuaError) WithRecoverable(recoverable bool) *PerpetuaError {
	e.Recoverable = recoverable
	return e
}

// AsPerpetuaError attempts to convert an error to a PerpetuaError.
// Returns the error as PerpetuaError if one is found in the chain, or wraps it otherwise.
func AsPerpetuaError(err error) *PerpetuaError {
	if err == nil {
		return nil
	}
	var pe *PerpetuaError
	if stderrors.As(err, &pe) {
		return pe
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var pe *PerpetuaError
	if !stderrors.As(err, &pe) {
		return false
	}
	return pe.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *PerpetuaError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput, CodeInvalidPurpose:
		return 400
	case CodeInvalidState:
		return 409
	case CodeTimeout:
		return 408
	case CodeUnavailable:
		return 503
	default:
		return 500
	}
}
