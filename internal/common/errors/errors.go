// Package errors provides the error taxonomy for the Navigator runtime.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. Every error surfaced by the core
// carries exactly one kind from this set.
type Kind string

const (
	KindUnauthorised      Kind = "unauthorised"
	KindMalformed         Kind = "malformed"
	KindExpired           Kind = "expired"
	KindBusy              Kind = "busy"
	KindUnknownRecipient  Kind = "unknown_recipient"
	KindNotFound          Kind = "not_found"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindAgentFault        Kind = "agent_fault"
	KindCancelled         Kind = "cancelled"
	KindResourceExhausted Kind = "resource_exhausted"
	KindConfigInvalid     Kind = "config_invalid"
)

// AppError is an application error with a kind and optional wrapped cause.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given kind and message.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Unauthorised creates an unauthorised error.
func Unauthorised(message string) *AppError {
	return New(KindUnauthorised, message)
}

// Malformed creates a malformed error.
func Malformed(message string) *AppError {
	return New(KindMalformed, message)
}

// Expired creates an expired error.
func Expired(message string) *AppError {
	return New(KindExpired, message)
}

// Busy creates a busy error for a full queue or buffer.
func Busy(message string) *AppError {
	return New(KindBusy, message)
}

// UnknownRecipient creates an unknown recipient routing error.
func UnknownRecipient(recipient string) *AppError {
	return Newf(KindUnknownRecipient, "no agent registered as '%s'", recipient)
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) *AppError {
	return Newf(KindNotFound, "%s '%s' not found", resource, id)
}

// StoreUnavailable creates a transient persistence error with a wrapped cause.
func StoreUnavailable(message string, err error) *AppError {
	return &AppError{Kind: KindStoreUnavailable, Message: message, Err: err}
}

// AgentFault wraps an unexpected fault raised by an agent plug-in.
func AgentFault(agent string, err error) *AppError {
	return &AppError{Kind: KindAgentFault, Message: fmt.Sprintf("agent '%s' faulted", agent), Err: err}
}

// Cancelled creates a cooperative cancellation error.
func Cancelled(message string) *AppError {
	return New(KindCancelled, message)
}

// ResourceExhausted creates an error for a workflow that exceeded its duration budget.
func ResourceExhausted(message string) *AppError {
	return New(KindResourceExhausted, message)
}

// ConfigInvalid creates a startup-time configuration error.
func ConfigInvalid(message string) *AppError {
	return New(KindConfigInvalid, message)
}

// Wrap wraps an existing error, preserving its kind if it is already an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Kind:    appErr.Kind,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     err,
		}
	}
	return &AppError{Kind: KindAgentFault, Message: message, Err: err}
}

// KindOf returns the kind of an error, or an empty kind for non-AppErrors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether the error carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsFatal reports whether the error kind forces a workflow into failed
// without running subsequent steps.
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindCancelled || k == KindResourceExhausted
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsBusy checks if the error is a busy error.
func IsBusy(err error) bool {
	return IsKind(err, KindBusy)
}
