// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package housekeeper

import (
	"testing"
	"time"

	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/taskstore"
)

func TestSweepDeletesExpiredTerminalTasks(t *testing.T) {
	store := taskstore.New(t.TempDir())

	old := time.Now().Add(-48 * time.Hour)
	expired := models.NewTask("expired", "tr1", "p", models.ScanUntrusted, []string{"a"})
	expired.Status = models.TaskCompleted
	expired.EndedAt = &old
	store.Write(expired)

	recent := time.Now().Add(-time.Minute)
	fresh := models.NewTask("fresh", "tr2", "p", models.ScanUntrusted, []string{"b"})
	fresh.Status = models.TaskCompleted
	fresh.EndedAt = &recent
	store.Write(fresh)

	h := New(store, Retention{Completed: time.Hour, Failed: time.Hour, Timeout: time.Hour}, time.Hour, logger.NewNoop())
	h.sweep()

	if _, err := store.Read("p", "expired"); err == nil {
		t.Error("expected expired task to be deleted")
	}
	if _, err := store.Read("p", "fresh"); err != nil {
		t.Errorf("expected fresh task to survive, got %v", err)
	}
}

func TestSweepSkipsNonTerminalTasks(t *testing.T) {
	store := taskstore.New(t.TempDir())

	task := models.NewTask("running", "tr1", "p", models.ScanUntrusted, []string{"a"})
	task.Status = models.TaskRunning
	store.Write(task)

	h := New(store, Retention{}, time.Hour, logger.NewNoop())
	h.sweep()

	if _, err := store.Read("p", "running"); err != nil {
		t.Errorf("expected running task to survive regardless of age, got %v", err)
	}
}
