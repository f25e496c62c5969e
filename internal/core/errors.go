// Package core provides the error taxonomy shared by the fixture packages.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gocql/gocql"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeRuntimeUnavailable indicates no container runtime; suites skip instead of failing
	ErrorTypeRuntimeUnavailable ErrorType = "runtime_unavailable"
	// ErrorTypeProvision indicates a container failed to start or bind a port
	ErrorTypeProvision ErrorType = "provision_error"
	// ErrorTypeSchema indicates a DDL/DML statement failed
	ErrorTypeSchema ErrorType = "schema_error"
	// ErrorTypeTimeout indicates a client-side request timeout
	ErrorTypeTimeout ErrorType = "timeout_error"
	// ErrorTypeFault indicates the fault-injection proxy rejected a request
	ErrorTypeFault ErrorType = "fault_error"
	// ErrorTypeState indicates an operation was issued in the wrong fixture state
	ErrorTypeState ErrorType = "state_error"
	// ErrorTypeInvalidRequest indicates a malformed admin API request
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
)

// Sentinels for errors.Is matching against a FixtureError of the same type.
var (
	ErrRuntimeUnavailable = &FixtureError{Type: ErrorTypeRuntimeUnavailable}
	ErrProvision          = &FixtureError{Type: ErrorTypeProvision}
	ErrSchema             = &FixtureError{Type: ErrorTypeSchema}
	ErrTimeout            = &FixtureError{Type: ErrorTypeTimeout}
	ErrFault              = &FixtureError{Type: ErrorTypeFault}
	ErrState              = &FixtureError{Type: ErrorTypeState}
	ErrInvalidRequest     = &FixtureError{Type: ErrorTypeInvalidRequest}
)

// FixtureError is the base error type for all fixture errors
type FixtureError struct {
	Type    ErrorType
	Message string
	// Statement is the CQL text that failed, if any.
	Statement string
	Err       error
}

// Error implements the error interface
func (e *FixtureError) Error() string {
	msg := string(e.Type)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Statement != "" {
		msg += fmt.Sprintf(" [statement: %s]", e.Statement)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements the error unwrapping interface
func (e *FixtureError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a FixtureError of the same type.
func (e *FixtureError) Is(target error) bool {
	t, ok := target.(*FixtureError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// HTTPStatusCode returns the status the admin API answers with for this error
func (e *FixtureError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeState:
		return http.StatusConflict
	case ErrorTypeFault:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeRuntimeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *FixtureError) ToJSON() map[string]interface{} {
	message := e.Message
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": message,
		},
	}
}

// NewInvalidRequestError creates a new invalid request error
func NewInvalidRequestError(message string, err error) *FixtureError {
	return &FixtureError{Type: ErrorTypeInvalidRequest, Message: message, Err: err}
}

// NewRuntimeUnavailableError creates an error signalling the suite should be skipped.
func NewRuntimeUnavailableError(err error) *FixtureError {
	return &FixtureError{Type: ErrorTypeRuntimeUnavailable, Message: "container runtime is not available", Err: err}
}

// NewProvisionError creates a new provisioning error
func NewProvisionError(message string, err error) *FixtureError {
	return &FixtureError{Type: ErrorTypeProvision, Message: message, Err: err}
}

// NewSchemaError creates a new statement error carrying the offending statement
func NewSchemaError(statement string, err error) *FixtureError {
	return &FixtureError{Type: ErrorTypeSchema, Message: "statement failed", Statement: statement, Err: err}
}

// NewTimeoutError creates a new client timeout error
func NewTimeoutError(statement string, err error) *FixtureError {
	return &FixtureError{Type: ErrorTypeTimeout, Message: "request timed out", Statement: statement, Err: err}
}

// NewFaultError creates a new fault-injection error
func NewFaultError(message string, err error) *FixtureError {
	return &FixtureError{Type: ErrorTypeFault, Message: message, Err: err}
}

// NewStateError creates a new illegal-transition error
func NewStateError(message string) *FixtureError {
	return &FixtureError{Type: ErrorTypeState, Message: message}
}

// IsTimeout reports whether err is a timeout-class error: a typed timeout,
// the driver's no-response timeout, an expired context or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, gocql.ErrTimeoutNoResponse) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRuntimeUnavailable reports whether err means the container runtime is missing.
func IsRuntimeUnavailable(err error) bool {
	return errors.Is(err, ErrRuntimeUnavailable)
}
