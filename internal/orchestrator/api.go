// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package orchestrator exposes the thin facade an MCP tool-dispatch layer
// (out of scope here) or an internal HTTP surface binds to: submit_scan,
// get_task_status, get_task_results, list_tasks, list_scanners, list_pools,
// get_pool_status, get_queue_status.
package orchestrator

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nessorch/orchestrator/internal/idempotency"
	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/pkg/errors"
	"github.com/nessorch/orchestrator/internal/queue"
	"github.com/nessorch/orchestrator/internal/registry"
	"github.com/nessorch/orchestrator/internal/results"
	"github.com/nessorch/orchestrator/internal/taskstore"
)

// API is the Orchestrator API facade.
type API struct {
	Registry   *registry.Registry
	Queue      *queue.Queue
	Idempotent *idempotency.Store
	Manager    *taskstore.Manager
}

// New constructs an API facade over its collaborators.
func New(reg *registry.Registry, q *queue.Queue, idem *idempotency.Store, mgr *taskstore.Manager) *API {
	return &API{Registry: reg, Queue: q, Idempotent: idem, Manager: mgr}
}

// SubmitScan accepts a scan request, resolves idempotency, and enqueues a
// new task for the worker to pick up. It never calls the backend directly.
func (a *API) SubmitScan(ctx context.Context, req *models.SubmitRequest) (*models.Task, error) {
	if req.Pool == "" || len(req.Targets) == 0 {
		return nil, errors.ErrInvalidInput
	}
	if _, err := a.Registry.SnapshotPool(req.Pool); err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	traceID := uuid.NewString()

	if req.IdempotencyKey != "" {
		fp := idempotency.Fingerprint(req)
		outcome, existingID, err := a.Idempotent.Insert(ctx, req.IdempotencyKey, taskID, fp)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case idempotency.Existing:
			return a.Manager.Get(req.Pool, existingID)
		case idempotency.Conflict:
			return nil, errors.ErrIdempotencyConflict
		}
	}

	task := models.NewTask(taskID, traceID, req.Pool, req.ScanType, req.Targets)
	task.Name = req.Name
	task.Description = req.Description
	task.SchemaProfile = req.SchemaProfile
	task.InstancePin = req.InstancePin
	task.Credentials = req.Credentials

	if err := a.Manager.Create(task); err != nil {
		return nil, err
	}
	if err := a.Queue.Push(ctx, queue.Entry{TaskID: task.ID, Pool: task.Pool, EnqueuedAt: time.Now()}); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTaskStatus returns the current task record (status, progress message,
// assigned instance), but never the full result artifact.
func (a *API) GetTaskStatus(pool, taskID string) (*models.Task, error) {
	return a.Manager.Get(pool, taskID)
}

// GetTaskResults streams the task's validated result artifact through the
// results pipeline according to q, writing NDJSON to w and returning the
// total match count.
func (a *API) GetTaskResults(pool, taskID string, q results.Query, w io.Writer) (int, error) {
	task, err := a.Manager.Get(pool, taskID)
	if err != nil {
		return 0, err
	}
	if !task.Status.Terminal() {
		return 0, errors.NewInvalidInput("results are not available until the task reaches a terminal state")
	}
	artifact, err := a.Manager.Store().ReadArtifact(pool, taskID)
	if err != nil {
		return 0, err
	}
	meta := results.Metadata{
		TaskID:   task.ID,
		Pool:     task.Pool,
		ScanType: string(task.ScanType),
		Targets:  task.Targets,
	}
	if task.EndedAt != nil {
		meta.CompletedAt = *task.EndedAt
	}
	return results.Run(artifact, meta, q, w)
}

// ListTasks returns a paginated, filtered view of a pool's tasks.
func (a *API) ListTasks(req *models.TaskListRequest) (*models.TaskListResponse, error) {
	var all []*models.Task
	if req.Pool != "" {
		tasks, err := a.Manager.Store().ListPool(req.Pool)
		if err != nil {
			return nil, err
		}
		all = tasks
	} else {
		pools, err := a.Manager.Store().ListAllPools()
		if err != nil {
			return nil, err
		}
		for _, pool := range pools {
			tasks, err := a.Manager.Store().ListPool(pool)
			if err != nil {
				return nil, err
			}
			all = append(all, tasks...)
		}
	}

	filtered := all[:0:0]
	for _, t := range all {
		if req.Status != "" && string(t.Status) != req.Status {
			continue
		}
		if req.CIDR != "" {
			match, err := taskstore.MatchesCIDR(t.Targets, req.CIDR)
			if err != nil {
				return nil, errors.WrapInvalidInput(err, "invalid cidr filter")
			}
			if !match {
				continue
			}
		}
		filtered = append(filtered, t)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if req.SortOrder == "asc" {
			return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	page, pageSize := req.Page, req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	if end > len(filtered) {
		end = len(filtered)
	}

	summaries := make([]*models.TaskSummary, 0, end-start)
	for _, t := range filtered[start:end] {
		summaries = append(summaries, t.ToSummary())
	}

	return &models.TaskListResponse{
		Total:    len(filtered),
		Page:     page,
		PageSize: pageSize,
		Tasks:    summaries,
	}, nil
}

// ListScanners returns the registry snapshot for a pool.
func (a *API) ListScanners(pool string) ([]registry.Snapshot, error) {
	return a.Registry.SnapshotPool(pool)
}

// ListPools returns every configured pool name.
func (a *API) ListPools() []string {
	return a.Registry.Pools()
}

// GetPoolStatus is an alias of ListScanners, named to match the spec's
// operation catalog.
func (a *API) GetPoolStatus(pool string) ([]registry.Snapshot, error) {
	return a.Registry.SnapshotPool(pool)
}

// GetQueueStatus reports a pool's backlog and dead-letter size.
func (a *API) GetQueueStatus(ctx context.Context, pool string) (*models.QueueStatusResponse, error) {
	length, err := a.Queue.Len(ctx, pool)
	if err != nil {
		return nil, err
	}
	dlq, err := a.Queue.DeadLetterLen(ctx, pool)
	if err != nil {
		return nil, err
	}
	return &models.QueueStatusResponse{
		Pool:            pool,
		QueueLength:     int(length),
		DeadLetterCount: int(dlq),
	}, nil
}

// ListDeadLetters returns a pool's dead-letter queue for administrative
// inspection. limit <= 0 returns every entry.
func (a *API) ListDeadLetters(ctx context.Context, pool string, limit int64) ([]queue.DeadLetterEntry, error) {
	return a.Queue.ListDeadLetters(ctx, pool, limit)
}

// GetDeadLetter returns one dead-lettered task's failure record.
func (a *API) GetDeadLetter(ctx context.Context, pool, taskID string) (*queue.DeadLetterEntry, error) {
	return a.Queue.DLQGet(ctx, pool, taskID)
}

// RetryDeadLetter is the deliberate administrative action that moves a
// dead-lettered task back onto the head of its pool's main queue.
func (a *API) RetryDeadLetter(ctx context.Context, pool, taskID string) (*queue.Entry, error) {
	return a.Queue.DLQRetry(ctx, pool, taskID)
}

// PurgeDeadLetters discards every entry in a pool's dead-letter queue.
func (a *API) PurgeDeadLetters(ctx context.Context, pool string) (int64, error) {
	return a.Queue.DLQPurge(ctx, pool)
}
