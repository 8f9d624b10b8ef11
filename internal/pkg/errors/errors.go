// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package errors provides unified error handling for the scan orchestrator.
package errors

import (
	"fmt"
	"net/http"
)

// Kind classifies an AppError into one of the taxonomy buckets the orchestrator
// core reasons about. The core itself never speaks HTTP; Kind is projected to
// a status code only at the httpapi boundary.
type Kind string

const (
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindUnavailable    Kind = "UNAVAILABLE"
	KindInternal       Kind = "INTERNAL"
)

// AppError represents an application error with a taxonomy kind and error code.
// It implements the error interface and supports error wrapping (Go 1.13+).
type AppError struct {
	Kind    Kind   `json:"kind"`    // Taxonomy bucket
	Code    string `json:"code"`    // Error code (e.g., "TASK_NOT_FOUND")
	Message string `json:"message"` // Human-readable error message
	Err     error  `json:"-"`       // Wrapped error (not serialized)
}

// Error returns the error message string.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError without wrapping an existing error.
func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

// Wrap creates a new AppError that wraps an existing error.
func Wrap(err error, kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Err: err}
}

// HTTPStatus projects a Kind to the status code the httpapi surface returns.
// The orchestrator core never imports net/http; only this function does.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Predefined error instances for common scenarios.
var (
	ErrTaskNotFound    = New(KindNotFound, "TASK_NOT_FOUND", "task not found")
	ErrPoolNotFound    = New(KindNotFound, "POOL_NOT_FOUND", "pool not found")
	ErrInstanceNotFound = New(KindNotFound, "INSTANCE_NOT_FOUND", "scanner instance not found")
	ErrInvalidInput    = New(KindInvalidArgument, "INVALID_INPUT", "invalid input parameters")
	ErrIdempotencyConflict = New(KindConflict, "IDEMPOTENCY_CONFLICT", "request fingerprint conflicts with an in-flight submission using the same key")
	ErrPoolSaturated   = New(KindUnavailable, "POOL_SATURATED", "pool has no available capacity")
	ErrCircuitOpen     = New(KindUnavailable, "CIRCUIT_OPEN", "scanner instance circuit breaker is open")
	ErrInternal        = New(KindInternal, "INTERNAL_ERROR", "internal server error")
)

// WrapNotFound wraps an error as a not-found error.
func WrapNotFound(err error, code, message string) *AppError {
	return Wrap(err, KindNotFound, code, message)
}

// NewInvalidInput creates a new invalid-argument error without wrapping.
func NewInvalidInput(message string) *AppError {
	return New(KindInvalidArgument, "INVALID_INPUT", message)
}

// WrapInvalidInput wraps an error as an invalid-argument error.
func WrapInvalidInput(err error, message string) *AppError {
	return Wrap(err, KindInvalidArgument, "INVALID_INPUT", message)
}

// WrapInternal wraps an error as an internal error.
func WrapInternal(err error, message string) *AppError {
	return Wrap(err, KindInternal, "INTERNAL_ERROR", message)
}

// WrapUnavailable wraps an error as a transient unavailability.
func WrapUnavailable(err error, code, message string) *AppError {
	return Wrap(err, KindUnavailable, code, message)
}

// IsRetryable reports whether the error kind represents a transient
// condition the worker should back off and retry rather than fail the task.
func IsRetryable(err error) bool {
	ae, ok := err.(*AppError)
	if !ok {
		return false
	}
	return ae.Kind == KindUnavailable
}
