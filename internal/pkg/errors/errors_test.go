// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := New(KindInvalidArgument, "TEST_ERROR", "Test error message")
	expected := "Test error message"

	if err.Error() != expected {
		t.Errorf("Expected error message %s, got %s", expected, err.Error())
	}
}

func TestAppError_ErrorWithWrapped(t *testing.T) {
	originalErr := errors.New("original error")
	err := Wrap(originalErr, KindInvalidArgument, "TEST_ERROR", "Test error message")
	expected := "Test error message: original error"

	if err.Error() != expected {
		t.Errorf("Expected error message %s, got %s", expected, err.Error())
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := Wrap(originalErr, KindInvalidArgument, "TEST_ERROR", "Test error message")

	unwrapped := err.Unwrap()
	if unwrapped != originalErr {
		t.Errorf("Expected unwrapped error to be original error")
	}
}

func TestPredefinedErrors(t *testing.T) {
	testCases := []struct {
		name           string
		err            *AppError
		expectedCode   string
		expectedStatus int
	}{
		{
			name:           "ErrTaskNotFound",
			err:            ErrTaskNotFound,
			expectedCode:   "TASK_NOT_FOUND",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "ErrInvalidInput",
			err:            ErrInvalidInput,
			expectedCode:   "INVALID_INPUT",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrInternal",
			err:            ErrInternal,
			expectedCode:   "INTERNAL_ERROR",
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "ErrPoolSaturated",
			err:            ErrPoolSaturated,
			expectedCode:   "POOL_SATURATED",
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "ErrIdempotencyConflict",
			err:            ErrIdempotencyConflict,
			expectedCode:   "IDEMPOTENCY_CONFLICT",
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.expectedCode {
				t.Errorf("Expected code %s, got %s", tc.expectedCode, tc.err.Code)
			}

			if HTTPStatus(tc.err.Kind) != tc.expectedStatus {
				t.Errorf("Expected status code %d, got %d", tc.expectedStatus, HTTPStatus(tc.err.Kind))
			}
		})
	}
}

func TestWrapNotFound(t *testing.T) {
	originalErr := errors.New("test error")

	err := WrapNotFound(originalErr, "TASK_NOT_FOUND", "task not found")

	if err.Code != "TASK_NOT_FOUND" {
		t.Errorf("Expected code TASK_NOT_FOUND, got %s", err.Code)
	}

	if HTTPStatus(err.Kind) != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, HTTPStatus(err.Kind))
	}

	if !errors.Is(err, originalErr) {
		t.Error("Expected wrapped error to be the original error")
	}
}

func TestWrapInvalidInput(t *testing.T) {
	originalErr := errors.New("test error")
	message := "Custom error message"

	err := WrapInvalidInput(originalErr, message)

	if err.Code != "INVALID_INPUT" {
		t.Errorf("Expected code INVALID_INPUT, got %s", err.Code)
	}

	if err.Message != message {
		t.Errorf("Expected message %s, got %s", message, err.Message)
	}

	if HTTPStatus(err.Kind) != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, HTTPStatus(err.Kind))
	}
}

func TestWrapInternal(t *testing.T) {
	originalErr := errors.New("test error")
	message := "Custom error message"

	err := WrapInternal(originalErr, message)

	if err.Code != "INTERNAL_ERROR" {
		t.Errorf("Expected code INTERNAL_ERROR, got %s", err.Code)
	}

	if err.Message != message {
		t.Errorf("Expected message %s, got %s", message, err.Message)
	}

	if HTTPStatus(err.Kind) != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, HTTPStatus(err.Kind))
	}
}

func TestWrapUnavailable(t *testing.T) {
	originalErr := errors.New("test error")
	message := "backend timed out"

	err := WrapUnavailable(originalErr, "BACKEND_TIMEOUT", message)

	if err.Code != "BACKEND_TIMEOUT" {
		t.Errorf("Expected code BACKEND_TIMEOUT, got %s", err.Code)
	}

	if !IsRetryable(err) {
		t.Error("Expected unavailable error to be retryable")
	}
}

func TestNewInvalidInput(t *testing.T) {
	message := "Invalid input provided"

	err := NewInvalidInput(message)

	if err.Code != "INVALID_INPUT" {
		t.Errorf("Expected code INVALID_INPUT, got %s", err.Code)
	}

	if err.Message != message {
		t.Errorf("Expected message %s, got %s", message, err.Message)
	}

	if HTTPStatus(err.Kind) != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, HTTPStatus(err.Kind))
	}
}
