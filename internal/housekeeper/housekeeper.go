// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package housekeeper periodically purges terminal-state task directories
// past their retention window, grounded on the teacher's cleanupWorker /
// cleanupOldReports loop.
package housekeeper

import (
	"sync"
	"time"

	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/taskstore"
)

// Retention configures how long a terminal-state task is kept before
// deletion, per status — so a failed scan's logs can be retained longer
// (or shorter) than a completed scan's results, independently.
type Retention struct {
	Completed time.Duration
	Failed    time.Duration
	Timeout   time.Duration
}

// DefaultRetention mirrors a conservative one-week retention across every
// terminal state.
func DefaultRetention() Retention {
	d := 7 * 24 * time.Hour
	return Retention{Completed: d, Failed: d, Timeout: d}
}

// Housekeeper runs the periodic retention sweep. It only ever inspects and
// deletes tasks already in a terminal state — queued/running tasks are
// never touched, regardless of age, matching the orchestrator's invariant
// that automatic recovery of stuck tasks is out of scope for this loop.
type Housekeeper struct {
	store     *taskstore.Store
	retention Retention
	interval  time.Duration
	log       logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Housekeeper. Call Start to begin the periodic sweep.
func New(store *taskstore.Store, retention Retention, interval time.Duration, log logger.Logger) *Housekeeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Housekeeper{
		store:     store,
		retention: retention,
		interval:  interval,
		log:       log,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop, running once immediately and then on
// every tick of interval, matching the teacher's "run on startup, then
// ticker" cleanupWorker shape.
func (h *Housekeeper) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.sweep()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.sweep()
			}
		}
	}()
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *Housekeeper) sweep() {
	pools, err := h.store.ListAllPools()
	if err != nil {
		h.log.Error("housekeeper: listing pools failed: %v", err)
		return
	}

	deleted := 0
	now := time.Now()
	for _, pool := range pools {
		tasks, err := h.store.ListPool(pool)
		if err != nil {
			h.log.Error("housekeeper: listing pool %s failed: %v", pool, err)
			continue
		}
		for _, task := range tasks {
			if !task.Status.Terminal() || task.EndedAt == nil {
				continue
			}
			if now.Sub(*task.EndedAt) < h.retentionFor(task.Status) {
				continue
			}
			if err := h.store.Delete(task.Pool, task.ID); err != nil {
				h.log.Error("housekeeper: deleting task %s failed: %v", task.ID, err)
				continue
			}
			deleted++
		}
	}
	if deleted > 0 {
		h.log.Info("housekeeper: deleted %d expired tasks", deleted)
	}
}

func (h *Housekeeper) retentionFor(status models.TaskStatus) time.Duration {
	switch status {
	case models.TaskCompleted:
		return h.retention.Completed
	case models.TaskFailed:
		return h.retention.Failed
	case models.TaskTimeout:
		return h.retention.Timeout
	default:
		return h.retention.Completed
	}
}
