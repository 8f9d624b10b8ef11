// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package scanner defines the pluggable interface the worker drives to run
// a scan against a concrete scanner product, plus the shared request/response
// types every backend implementation speaks in.
package scanner

import (
	"context"
	"time"

	"github.com/nessorch/orchestrator/internal/models"
)

// LaunchRequest describes a scan to start on a specific backend instance.
type LaunchRequest struct {
	Name        string
	Targets     []string
	ScanType    models.ScanType
	Credentials *models.Credentials
}

// LaunchResult identifies the backend-side scan created by Launch.
type LaunchResult struct {
	ExternalScanID string
	Version        *models.ScannerVersion
}

// ScanState is the backend-reported lifecycle state of a launched scan,
// independent of the orchestrator's own Task state machine.
type ScanState string

const (
	StateRunning   ScanState = "running"
	StateCompleted ScanState = "completed"
	StateFailed    ScanState = "failed"
	StateStopped   ScanState = "stopped"
)

// StatusResult is the response to a Status poll.
type StatusResult struct {
	State    ScanState
	Progress string // backend-reported human progress, e.g. "42%"
}

// Backend is the seam the worker drives to run one scan end to end against
// a concrete scanner product. Implementations must classify every returned
// error with errors.KindUnavailable (transient, worth retrying) or a
// non-retryable kind (fatal, fail the task immediately) — the worker
// inspects the error kind, never the backend type, to decide.
type Backend interface {
	// Authenticate establishes or refreshes a session against the instance.
	Authenticate(ctx context.Context) error

	// Create registers a new scan definition and returns its external ID
	// without starting execution.
	Create(ctx context.Context, req LaunchRequest) (externalID string, err error)

	// Launch starts execution of a previously created scan.
	Launch(ctx context.Context, externalID string) (*LaunchResult, error)

	// Status polls the current lifecycle state of a launched scan.
	Status(ctx context.Context, externalID string) (*StatusResult, error)

	// Export downloads the raw result artifact once the scan has finished,
	// in the backend's native report format.
	Export(ctx context.Context, externalID string) ([]byte, error)

	// Stop requests cancellation of a running scan. Best-effort.
	Stop(ctx context.Context, externalID string) error

	// Delete removes the scan definition from the backend. Best-effort.
	Delete(ctx context.Context, externalID string) error

	// Close releases any session state (HTTP connections, tokens) held by
	// the backend client. Called when an instance is removed from the
	// registry or on process shutdown.
	Close(ctx context.Context) error
}

// PollInterval is the default interval Status should be polled at by a
// worker driving this backend, used when the worker's StatusPollInterval
// is unset.
const PollInterval = 5 * time.Second
