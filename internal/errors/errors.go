package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// AdapterUnavailable indicates an adapter could not be reached or failed to run
	AdapterUnavailable ErrorCode = "ADAPTER_UNAVAILABLE"
	// AdapterTimeout indicates an adapter call exceeded its timeout
	AdapterTimeout ErrorCode = "ADAPTER_TIMEOUT"
	// AdapterRejected indicates the gateway or the adapter refused the request
	AdapterRejected ErrorCode = "ADAPTER_REJECTED"
	// EvidenceInvariantViolation indicates a claim was confirmed without evidence
	EvidenceInvariantViolation ErrorCode = "EVIDENCE_INVARIANT_VIOLATION"
	// SchemaVersionConflict indicates graphs with incompatible schema versions
	SchemaVersionConflict ErrorCode = "SCHEMA_VERSION_CONFLICT"
	// AttributeConflict indicates two different scalar values for one node attribute
	AttributeConflict ErrorCode = "ATTRIBUTE_CONFLICT"
	// ConfigurationError indicates invalid startup configuration
	ConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	// SchemaViolation indicates candidate claims that do not match the claim schema
	SchemaViolation ErrorCode = "SCHEMA_VIOLATION"
	// GraphInvalid indicates a graph that breaks a structural invariant
	GraphInvalid ErrorCode = "GRAPH_INVALID"
	// Cancelled indicates the caller cancelled the operation
	Cancelled ErrorCode = "CANCELLED"
	// NotFound indicates a missing stored run or file
	NotFound ErrorCode = "NOT_FOUND"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a configuration value
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Field       string        `json:"field,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Error is the structured error returned by every caller-facing operation.
type Error struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new Error with the default suggested fixes for its code.
func New(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf creates a new Error without a cause using a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same code, so callers can test
// errors.Is(err, errors.New(errors.SchemaVersionConflict, "", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first *Error in err's chain,
// or InternalError when there is none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Wrap converts any error into an *Error, keeping an existing code.
func Wrap(err error, fallback ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(fallback, message, err)
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ConfigurationError: {
		{
			Type:        RunCommand,
			Command:     "depverify config show",
			Description: "Inspect the effective configuration",
		},
	},
	SchemaVersionConflict: {
		{
			Type:        RunCommand,
			Command:     "depverify runs export <id> --out graph.json",
			Description: "Re-export the older graph with the current schema version",
		},
	},
	AdapterTimeout: {
		{
			Type:        EditConfig,
			Field:       "gateway.timeoutMs",
			Description: "Raise the adapter timeout",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
