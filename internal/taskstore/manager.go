// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package taskstore

import (
	"time"

	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/pkg/errors"
)

// allowedTransitions enumerates every legal (from, to) status pair. Any
// transition not listed here is rejected by Manager.Transition, which is
// the sole writer of Task.Status in the whole system.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskQueued:  {models.TaskRunning, models.TaskFailed},
	models.TaskRunning: {models.TaskCompleted, models.TaskFailed, models.TaskTimeout},
}

// Manager is the TaskManager: the only component allowed to mutate a
// task's status, enforcing the state machine above on every write and
// delegating durability to Store.
type Manager struct {
	store *Store
}

// NewManager wraps a Store with state-machine enforcement.
func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// Create persists a brand-new, queued task.
func (m *Manager) Create(task *models.Task) error {
	if task.Status != models.TaskQueued {
		return errors.NewInvalidInput("new tasks must be created in queued status")
	}
	return m.store.Write(task)
}

// Transition moves a task to a new status, enforcing the legal-transition
// table and stamping StartedAt/EndedAt as appropriate. The mutation
// function f is applied to the loaded task after the new status and
// timestamp are set (e.g. to attach a ValidationResult), so the whole
// update is one durable write.
func (m *Manager) Transition(pool, taskID string, to models.TaskStatus, f func(*models.Task)) (*models.Task, error) {
	task, err := m.store.Read(pool, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status == to {
		return task, nil // idempotent no-op, e.g. a duplicate worker report
	}

	allowed := false
	for _, next := range allowedTransitions[task.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errors.NewInvalidInput("illegal task transition from " + string(task.Status) + " to " + string(to))
	}

	now := time.Now()
	switch to {
	case models.TaskRunning:
		task.StartedAt = &now
	case models.TaskCompleted, models.TaskFailed, models.TaskTimeout:
		task.EndedAt = &now
	}
	task.Status = to

	if f != nil {
		f(task)
	}

	if err := m.store.Write(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get loads a task by pool and ID.
func (m *Manager) Get(pool, taskID string) (*models.Task, error) {
	return m.store.Read(pool, taskID)
}

// Store exposes the underlying Store for read-heavy callers (list/query)
// that don't need state-machine enforcement.
func (m *Manager) Store() *Store { return m.store }
