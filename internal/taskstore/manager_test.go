// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package taskstore

import (
	"testing"

	"github.com/nessorch/orchestrator/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(New(t.TempDir()))
}

func TestTransitionQueuedToRunning(t *testing.T) {
	m := newTestManager(t)
	task := models.NewTask("t1", "tr1", "p", models.ScanUntrusted, []string{"a"})
	if err := m.Create(task); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := m.Transition("p", "t1", models.TaskRunning, nil)
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if got.Status != models.TaskRunning || got.StartedAt == nil {
		t.Errorf("expected running status with StartedAt set, got %+v", got)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := newTestManager(t)
	task := models.NewTask("t1", "tr1", "p", models.ScanUntrusted, []string{"a"})
	m.Create(task)

	if _, err := m.Transition("p", "t1", models.TaskCompleted, nil); err == nil {
		t.Error("expected queued->completed to be rejected")
	}
}

func TestTransitionToTerminalStampsEndedAt(t *testing.T) {
	m := newTestManager(t)
	task := models.NewTask("t1", "tr1", "p", models.ScanUntrusted, []string{"a"})
	m.Create(task)
	m.Transition("p", "t1", models.TaskRunning, nil)

	got, err := m.Transition("p", "t1", models.TaskCompleted, func(t *models.Task) {
		t.Validation = &models.ValidationResult{IsValid: true, AuthenticationStatus: "success", Statistics: map[string]int{"hostCount": 1}}
	})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if got.EndedAt == nil || got.Validation == nil {
		t.Errorf("expected EndedAt and validation to be set, got %+v", got)
	}
}

func TestTransitionIdempotentNoOp(t *testing.T) {
	m := newTestManager(t)
	task := models.NewTask("t1", "tr1", "p", models.ScanUntrusted, []string{"a"})
	m.Create(task)
	m.Transition("p", "t1", models.TaskRunning, nil)

	got, err := m.Transition("p", "t1", models.TaskRunning, nil)
	if err != nil {
		t.Fatalf("expected idempotent re-transition to succeed, got %v", err)
	}
	if got.Status != models.TaskRunning {
		t.Errorf("expected status to remain running, got %s", got.Status)
	}
}
