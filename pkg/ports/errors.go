package ports

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Package ports holds the outbound interfaces used by the writing core and the chat host,
// together with the error type adapters return.

// PortError wraps adapter failures with a normalized code and an optional retry hint.
type PortError struct {
	Op         string
	Code       string
	RetryAfter time.Duration
	Wrapped    error
}

func (e *PortError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

// Unwrap exposes the underlying adapter error for errors.Is/As.
func (e *PortError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Wrapped
}

// NewPortError builds a PortError for op/code around err.
func NewPortError(op, code string, err error) *PortError {
	return &PortError{
		Op:      op,
		Code:    code,
		Wrapped: err,
	}
}

// IsCode reports whether err is a PortError carrying code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pe *PortError
	if errors.As(err, &pe) {
		return pe != nil && pe.Code == code
	}
	return false
}

// CodeOf returns the PortError code of err, or "" when err is not a PortError.
func CodeOf(err error) string {
	var pe *PortError
	if errors.As(err, &pe) && pe != nil {
		return pe.Code
	}
	return ""
}

// WrapContextError maps context cancellation to PortError codes.
func WrapContextError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &PortError{Op: op, Code: CodeContextCanceled, Wrapped: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PortError{Op: op, Code: CodeContextDeadline, Wrapped: err}
	}
	return &PortError{Op: op, Code: "context_error", Wrapped: err}
}

const (
	CodeContextCanceled    = "context_canceled"
	CodeContextDeadline    = "context_deadline"
	CodeMessageNotModified = "message_not_modified"
	CodeRateLimited        = "rate_limited"
	CodeBadRequest         = "bad_request"
	CodeUnauthorized       = "unauthorized"
	CodeUpstream           = "upstream_error"
	CodeTransport          = "transport_error"
	CodeNotFound           = "not_found"
)
