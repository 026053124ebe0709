// Package apperr defines the error taxonomy shared by the scoring core and
// the transports that expose it.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when a record, report or subscription does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError is bad caller input. It is never retried.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PreconditionError means the request is well formed but the user is not in
// a state that allows it. Hint tells the caller how to get there.
type PreconditionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (e *PreconditionError) Error() string { return e.Message }

// Is matches on Code so wrapped copies compare equal to the sentinels below.
func (e *PreconditionError) Is(target error) bool {
	t, ok := target.(*PreconditionError)
	return ok && t.Code == e.Code
}

var (
	ErrBaseVerificationRequired = &PreconditionError{
		Code:    "base_verification_required",
		Message: "base contract verification is required first",
		Hint:    "sign the TiltCheck contract before linking accounts or submitting proofs",
	}
	ErrNoActiveSession = &PreconditionError{
		Code:    "no_active_session",
		Message: "no active session",
		Hint:    "start a session with a platform and bankroll first",
	}
	ErrInsufficientTrust = &PreconditionError{
		Code:    "insufficient_trust",
		Message: "trust score too low for this action",
		Hint:    "verify more accounts or submit proof actions to raise your trust score",
	}
	ErrUserInactive = &PreconditionError{
		Code:    "user_inactive",
		Message: "user record is inactive",
	}
)

// StorageError wraps a failed read or write against the event log store.
// The operation was aborted and may be retried.
type StorageError struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s/%s: %v", e.Op, e.Table, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failed call to a verification, minting or
// notification dependency. The triggering event was not recorded.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External builds an ExternalServiceError.
func External(service string, err error) error {
	return &ExternalServiceError{Service: service, Err: err}
}

// Response is the JSON error body used by every HTTP handler.
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// HTTP maps err to a status code and response body.
func HTTP(err error) (int, Response) {
	var (
		ve *ValidationError
		pe *PreconditionError
		se *StorageError
		xe *ExternalServiceError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, Response{Error: "validation_error", Message: ve.Message, Field: ve.Field}
	case errors.As(err, &pe):
		status := http.StatusConflict
		if pe.Code == ErrNoActiveSession.Code {
			status = http.StatusNotFound
		}
		return status, Response{Error: pe.Code, Message: pe.Message, Hint: pe.Hint}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, Response{Error: "not_found", Message: err.Error()}
	case errors.As(err, &xe):
		return http.StatusBadGateway, Response{Error: "external_service_error", Message: xe.Error(), Hint: "retry later"}
	case errors.As(err, &se):
		return http.StatusServiceUnavailable, Response{Error: "storage_error", Message: "storage temporarily unavailable", Hint: "retry later"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, Response{Error: "timeout", Message: "request timed out", Hint: "retry later"}
	default:
		return http.StatusInternalServerError, Response{Error: "internal_error", Message: "An unexpected error occurred"}
	}
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	var (
		se *StorageError
		xe *ExternalServiceError
	)
	return errors.As(err, &se) || errors.As(err, &xe) || errors.Is(err, context.DeadlineExceeded)
}
