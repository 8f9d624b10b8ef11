// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewTaskIsQueued(t *testing.T) {
	task := NewTask("t1", "trace1", "default", ScanUntrusted, []string{"10.0.0.1"})

	if task.Status != TaskQueued {
		t.Errorf("expected status %q, got %q", TaskQueued, task.Status)
	}
	if task.Status.Terminal() {
		t.Error("queued status must not be terminal")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskCompleted, TaskFailed, TaskTimeout}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
	nonTerminal := []TaskStatus{TaskQueued, TaskRunning}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %q to not be terminal", s)
		}
	}
}

func TestTaskProgressIsTransient(t *testing.T) {
	task := NewTask("t1", "trace1", "default", ScanUntrusted, []string{"10.0.0.1"})
	task.SetProgress("50%")

	if got := task.Progress(); got != "50%" {
		t.Errorf("expected progress 50%%, got %q", got)
	}

	b, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(b), "50%") {
		t.Error("progress must not appear in the serialized task record")
	}
}

func TestCredentialsNeverMarshalPassword(t *testing.T) {
	creds := &Credentials{Username: "admin", Password: "hunter2", Method: "ssh"}

	b, err := json.Marshal(creds)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(b), "hunter2") {
		t.Error("password leaked into serialized credentials")
	}

	user, method := creds.Fingerprint()
	if user != "admin" || method != "ssh" {
		t.Errorf("unexpected fingerprint fields: %q %q", user, method)
	}
}

func TestTaskToSummary(t *testing.T) {
	task := NewTask("t1", "trace1", "default", ScanAuthenticated, []string{"10.0.0.0/24"})
	task.AssignedInstanceID = "inst-1"

	summary := task.ToSummary()
	if summary.ID != task.ID || summary.Pool != task.Pool || summary.AssignedInstanceID != "inst-1" {
		t.Errorf("summary fields did not project correctly: %+v", summary)
	}
}
