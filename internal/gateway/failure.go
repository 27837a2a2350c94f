package gateway

import (
	"fmt"

	"depverify/internal/errors"
)

// FailureKind classifies an adapter failure.
type FailureKind string

const (
	FailureUnavailable FailureKind = "unavailable"
	FailureTimeout     FailureKind = "timeout"
	FailureRejected    FailureKind = "rejected"
)

// Failure is a transport or policy problem with one adapter call.
// It is never evidence of absence.
type Failure struct {
	Adapter string      `json:"adapter"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	cause   error
}

// NewFailure creates a Failure. adapter may be empty; the gateway fills it in.
func NewFailure(kind FailureKind, adapter, message string, cause error) *Failure {
	return &Failure{Adapter: adapter, Kind: kind, Message: message, cause: cause}
}

// Unavailable reports an adapter that could not run.
func Unavailable(message string, cause error) *Failure {
	return NewFailure(FailureUnavailable, "", message, cause)
}

// Rejectedf reports a request the adapter refuses to execute.
func Rejectedf(format string, args ...interface{}) *Failure {
	return NewFailure(FailureRejected, "", fmt.Sprintf(format, args...), nil)
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("adapter %s %s: %s: %v", f.Adapter, f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("adapter %s %s: %s", f.Adapter, f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.cause
}

// Retryable reports whether the failure should trigger a retry.
func (f *Failure) Retryable() bool {
	return f.Kind == FailureUnavailable || f.Kind == FailureTimeout
}

// Code maps the failure onto the structured error codes.
func (f *Failure) Code() errors.ErrorCode {
	switch f.Kind {
	case FailureTimeout:
		return errors.AdapterTimeout
	case FailureRejected:
		return errors.AdapterRejected
	default:
		return errors.AdapterUnavailable
	}
}

// AsError converts the failure into a structured error.
func (f *Failure) AsError() *errors.Error {
	return errors.New(f.Code(), f.Error(), f.cause)
}
