// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package fake provides a scripted, in-memory scanner.Backend for the
// registry, orchestrator and httpapi tests, mirroring the split the teacher made between its
// CommandExecutor interface and a real/mock implementation pair.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/nessorch/orchestrator/internal/models"
	orcherrors "github.com/nessorch/orchestrator/internal/pkg/errors"
	"github.com/nessorch/orchestrator/internal/scanner"
)

// Backend is a scripted scanner.Backend. Each method call increments a
// counter so tests can assert on call sequences; script hooks let a test
// inject transient failures, fatal errors, or specific status transitions.
type Backend struct {
	mu sync.Mutex

	NextExternalID string
	Artifact       []byte
	States         []scanner.ScanState // consumed one per Status call, last one repeats

	CreateErr error
	LaunchErr error
	StatusErr error
	ExportErr error

	statusCalls int
	Calls       []string
}

// New constructs a Backend that completes after one "running" status poll.
func New() *Backend {
	return &Backend{
		NextExternalID: "ext-1",
		States:         []scanner.ScanState{scanner.StateRunning, scanner.StateCompleted},
	}
}

var _ scanner.Backend = (*Backend)(nil)

func (b *Backend) record(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, name)
}

func (b *Backend) Authenticate(ctx context.Context) error {
	b.record("Authenticate")
	return nil
}

func (b *Backend) Create(ctx context.Context, req scanner.LaunchRequest) (string, error) {
	b.record("Create")
	if b.CreateErr != nil {
		return "", b.CreateErr
	}
	return b.NextExternalID, nil
}

func (b *Backend) Launch(ctx context.Context, externalID string) (*scanner.LaunchResult, error) {
	b.record("Launch")
	if b.LaunchErr != nil {
		return nil, b.LaunchErr
	}
	return &scanner.LaunchResult{
		ExternalScanID: externalID,
		Version:        &models.ScannerVersion{ServerVersion: "fake-1.0"},
	}, nil
}

func (b *Backend) Status(ctx context.Context, externalID string) (*scanner.StatusResult, error) {
	b.record("Status")
	if b.StatusErr != nil {
		return nil, b.StatusErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.statusCalls
	if idx >= len(b.States) {
		idx = len(b.States) - 1
	}
	b.statusCalls++
	state := b.States[idx]
	return &scanner.StatusResult{State: state, Progress: fmt.Sprintf("poll-%d", b.statusCalls)}, nil
}

func (b *Backend) Export(ctx context.Context, externalID string) ([]byte, error) {
	b.record("Export")
	if b.ExportErr != nil {
		return nil, b.ExportErr
	}
	if b.Artifact != nil {
		return b.Artifact, nil
	}
	return []byte(minimalNessusReport), nil
}

func (b *Backend) Stop(ctx context.Context, externalID string) error {
	b.record("Stop")
	return nil
}

func (b *Backend) Delete(ctx context.Context, externalID string) error {
	b.record("Delete")
	return nil
}

func (b *Backend) Close(ctx context.Context) error {
	b.record("Close")
	return nil
}

// RetryableErr builds an error the worker should back off and retry against.
func RetryableErr(code string) error {
	return orcherrors.New(orcherrors.KindUnavailable, code, "simulated transient failure")
}

// FatalErr builds an error the worker should fail the task on immediately.
func FatalErr(code string) error {
	return orcherrors.New(orcherrors.KindInvalidArgument, code, "simulated fatal failure")
}

const minimalNessusReport = `<?xml version="1.0"?>
<NessusClientData_v2>
  <Report name="fake">
    <ReportHost name="10.0.0.1">
      <HostProperties>
        <tag name="host-ip">10.0.0.1</tag>
      </HostProperties>
      <ReportItem pluginID="19506" pluginName="Nessus Scan Information" severity="0" port="0">
        <plugin_output>Credentialed checks : yes</plugin_output>
      </ReportItem>
      <ReportItem pluginID="12345" pluginName="Example Finding" severity="2" port="443" svc_name="https">
        <description>Example medium finding.</description>
      </ReportItem>
    </ReportHost>
  </Report>
</NessusClientData_v2>
`
