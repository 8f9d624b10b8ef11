// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package worker implements the dispatch loop that pulls queued tasks,
// reserves a scanner instance, and drives one scan end to end through the
// scanner.Backend lifecycle.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/pkg/errors"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/queue"
	"github.com/nessorch/orchestrator/internal/registry"
	"github.com/nessorch/orchestrator/internal/scanner"
	"github.com/nessorch/orchestrator/internal/taskstore"
	"github.com/nessorch/orchestrator/internal/validator"
)

// Config tunes the worker's dispatch loop and per-scan timeouts.
type Config struct {
	Pools              []string
	MaxConcurrentScans int
	PollInterval       time.Duration
	ScanTimeout        time.Duration
	StatusPollInterval time.Duration
	MaxBackoffRetries  uint64
}

// Worker is the orchestrator's cooperative dispatch loop: one goroutine per
// subscribed pool, sharing a process-wide concurrency budget, in the same
// semaphore-channel shape as the teacher's workerPool.
type Worker struct {
	cfg      Config
	registry *registry.Registry
	queue    *queue.Queue
	manager  *taskstore.Manager
	log      logger.Logger

	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Worker. Start must be called to begin dispatching.
func New(cfg Config, reg *registry.Registry, q *queue.Queue, mgr *taskstore.Manager, log logger.Logger) *Worker {
	if cfg.MaxConcurrentScans <= 0 {
		cfg.MaxConcurrentScans = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = scanner.PollInterval
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 2 * time.Hour
	}
	if cfg.MaxBackoffRetries == 0 {
		cfg.MaxBackoffRetries = 5
	}
	return &Worker{
		cfg:      cfg,
		registry: reg,
		queue:    q,
		manager:  mgr,
		log:      log,
		sem:      make(chan struct{}, cfg.MaxConcurrentScans),
		stopCh:   make(chan struct{}),
	}
}

// Start launches one dispatch goroutine per subscribed pool, in subscription
// order. The goroutines run concurrently and compete for the shared
// semaphore as they become ready; there is no cross-pool fairness guarantee.
func (w *Worker) Start() {
	for _, pool := range w.cfg.Pools {
		w.wg.Add(1)
		go w.dispatchLoop(pool)
	}
}

// Stop signals every dispatch loop to exit and waits for the loops and for
// every in-flight scan goroutine to return. In-flight scans do not observe
// the stop signal: each runs until its task reaches a terminal state or its
// ScanTimeout expires, and no backend Stop call is made.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// dispatchLoop blocks on the pool's queue via queue.Pop's BLPOP rather than
// polling on a ticker: an idle pool holds one blocked connection instead of
// busy-waiting. PollInterval is reused as the BLPOP timeout, so the loop
// still wakes periodically to notice Stop.
func (w *Worker) dispatchLoop(pool string) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.tryDispatch(pool)
	}
}

// tryDispatch blocks (up to PollInterval) for the next queued task in pool,
// then attempts to acquire a concurrency slot and a scanner instance for it.
// If no task arrives before the timeout, or no slot/instance is currently
// available, it returns so the loop can re-check stopCh.
func (w *Worker) tryDispatch(pool string) {
	entry, err := w.queue.Pop(context.Background(), pool, w.cfg.PollInterval)
	if err != nil {
		w.log.Error("queue pop failed for pool %s: %v", pool, err)
		return
	}
	if entry == nil {
		return
	}

	select {
	case w.sem <- struct{}{}:
	default:
		// Every worker slot busy; put the task back so it isn't lost.
		w.queue.Push(context.Background(), *entry)
		return
	}

	task, err := w.manager.Get(pool, entry.TaskID)
	if err != nil {
		w.log.Error("loading task %s failed: %v", entry.TaskID, err)
		<-w.sem
		return
	}

	inst, err := w.registry.Select(pool, task.InstancePin)
	if err == errors.ErrPoolNotFound {
		// The pool is not in the registry, so no instance can ever run it.
		w.manager.Transition(pool, task.ID, models.TaskFailed, func(t *models.Task) {
			t.Message = "scan failed: " + err.Error()
		})
		<-w.sem
		return
	}
	if err != nil {
		// No capacity, an open breaker, or a pinned instance that is absent
		// or disabled: put the task back at the tail of the queue by
		// re-pushing it, so a later pop retries it.
		w.queue.Push(context.Background(), *entry)
		<-w.sem
		return
	}
	if !inst.Reserve() {
		w.queue.Push(context.Background(), *entry)
		<-w.sem
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer inst.Release()
		defer func() { <-w.sem }()
		w.execute(task, inst, entry)
	}()
}

// errScanTimedOut is a sentinel returned by pollUntilDone once it has
// already transitioned the task to TaskTimeout itself, so execute knows not
// to attempt a second, invalid transition to TaskFailed on top of it.
var errScanTimedOut = errors.New(errors.KindInternal, "SCAN_TIMEOUT", "scan exceeded deadline")

// execute drives one task through the full scanner.Backend lifecycle:
// authenticate, create, launch, poll, export, validate, persist.
func (w *Worker) execute(task *models.Task, inst *registry.Instance, entry *queue.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ScanTimeout)
	defer cancel()

	backend := inst.Backend()
	task, err := w.manager.Transition(task.Pool, task.ID, models.TaskRunning, func(t *models.Task) {
		t.AssignedInstanceID = inst.ID
		t.Message = "launching scan"
	})
	if err != nil {
		w.log.Error("transition to running failed for task %s: %v", task.ID, err)
		return
	}
	w.manager.Store().AppendLog(task.Pool, task.ID, "scan started, assigned instance "+inst.ID)

	externalID, err := callBackendRetrying(ctx, w, inst, func(ctx context.Context) (string, error) {
		if err := backend.Authenticate(ctx); err != nil {
			return "", err
		}
		return backend.Create(ctx, scanner.LaunchRequest{
			Name:        task.Name,
			Targets:     task.Targets,
			ScanType:    task.ScanType,
			Credentials: task.Credentials,
		})
	})
	if err != nil {
		w.fail(task, entry, err)
		return
	}

	launchResult, err := w.callBackendLaunch(ctx, inst, externalID)
	if err != nil {
		w.fail(task, entry, err)
		return
	}
	task.ExternalScanID = externalID
	task.ScannerVersion = launchResult.Version
	w.manager.Store().Write(task)

	if err := w.pollUntilDone(ctx, inst, task); err != nil {
		if err != errScanTimedOut {
			w.fail(task, entry, err)
		}
		return
	}

	artifact, err := w.callBackendExport(ctx, inst, externalID)
	if err != nil {
		w.fail(task, entry, err)
		return
	}
	if err := w.manager.Store().WriteArtifact(task.Pool, task.ID, artifact); err != nil {
		w.fail(task, entry, err)
		return
	}

	result, err := validator.Validate(artifact, task.ScanType)
	if err != nil {
		w.fail(task, entry, errors.WrapInvalidInput(err, "validating result artifact"))
		return
	}

	if !result.IsValid {
		w.failValidation(task, result)
		return
	}

	w.manager.Transition(task.Pool, task.ID, models.TaskCompleted, func(t *models.Task) {
		t.Validation = result
		t.Message = "scan completed"
	})
	w.manager.Store().AppendLog(task.Pool, task.ID, "scan completed")
}

func (w *Worker) pollUntilDone(ctx context.Context, inst *registry.Instance, task *models.Task) error {
	ticker := time.NewTicker(w.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.manager.Transition(task.Pool, task.ID, models.TaskTimeout, func(t *models.Task) {
				t.Message = "scan exceeded the worker's scan timeout"
			})
			return errScanTimedOut
		case <-ticker.C:
			status, err := w.callBackendStatus(ctx, inst, task.ExternalScanID)
			if err != nil {
				return err
			}
			task.SetProgress(status.Progress)
			switch status.State {
			case scanner.StateCompleted:
				return nil
			case scanner.StateFailed, scanner.StateStopped:
				return errors.New(errors.KindInternal, "BACKEND_SCAN_FAILED", "backend reported scan failure")
			}
		}
	}
}

// callBackendRetrying wraps a single backend call with the circuit
// breaker's allow/report protocol and a bounded exponential backoff for
// transient (errors.KindUnavailable) failures, grounded on the
// cenkalti/backoff retry shape the corpus uses for flaky-backend recovery.
// Non-retryable errors stop the retry loop immediately via
// backoff.Permanent.
func callBackendRetrying[T any](ctx context.Context, w *Worker, inst *registry.Instance, call func(context.Context) (T, error)) (T, error) {
	var result T
	op := func() error {
		report, allowErr := inst.AllowCall()
		if allowErr != nil {
			return backoff.Permanent(errors.ErrCircuitOpen)
		}
		v, err := call(ctx)
		report(err == nil)
		if err != nil {
			if errors.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = v
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.cfg.MaxBackoffRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (w *Worker) callBackendLaunch(ctx context.Context, inst *registry.Instance, externalID string) (*scanner.LaunchResult, error) {
	return callBackendRetrying(ctx, w, inst, func(ctx context.Context) (*scanner.LaunchResult, error) {
		return inst.Backend().Launch(ctx, externalID)
	})
}

func (w *Worker) callBackendStatus(ctx context.Context, inst *registry.Instance, externalID string) (*scanner.StatusResult, error) {
	return callBackendRetrying(ctx, w, inst, func(ctx context.Context) (*scanner.StatusResult, error) {
		return inst.Backend().Status(ctx, externalID)
	})
}

func (w *Worker) callBackendExport(ctx context.Context, inst *registry.Instance, externalID string) ([]byte, error) {
	return callBackendRetrying(ctx, w, inst, func(ctx context.Context) ([]byte, error) {
		return inst.Backend().Export(ctx, externalID)
	})
}

// fail handles an unhandled backend/transport error (§4.8(l)): the task is
// marked failed and its queue entry is moved to the dead-letter queue, since
// nothing about the failure tells us the scan itself is unrecoverable — an
// administrator may choose to retry it later via the DLQ.
func (w *Worker) fail(task *models.Task, entry *queue.Entry, err error) {
	msg := fmt.Sprintf("scan failed: %v", err)
	w.log.Error("task %s failed: %v", task.ID, err)
	w.manager.Store().AppendLog(task.Pool, task.ID, msg)
	w.manager.Transition(task.Pool, task.ID, models.TaskFailed, func(t *models.Task) {
		t.Message = msg
	})
	if entry != nil {
		dleErr := w.queue.DeadLetter(context.Background(), queue.DeadLetterEntry{
			Entry:    *entry,
			FailedAt: time.Now(),
			Reason:   err.Error(),
		})
		if dleErr != nil {
			w.log.Error("dead-lettering task %s failed: %v", task.ID, dleErr)
		}
	}
}

// failValidation handles an expected, handled failure (§4.8(j)): the scan
// ran to completion but result validation rejected it (e.g. an
// authenticated scan whose credentials failed). The task is marked failed
// with the partial validation block and a troubleshooting hint attached,
// but it is NOT dead-lettered — there is nothing for an administrator to
// retry without first fixing the credentials or target reachability that
// caused the rejection.
func (w *Worker) failValidation(task *models.Task, result *models.ValidationResult) {
	msg := "scan result failed validation"
	if result.AuthenticationStatus != "" {
		msg = fmt.Sprintf("scan result failed validation: authentication status %s", result.AuthenticationStatus)
	}
	w.log.Error("task %s failed validation: %s", task.ID, msg)
	w.manager.Store().AppendLog(task.Pool, task.ID, msg)
	w.manager.Transition(task.Pool, task.ID, models.TaskFailed, func(t *models.Task) {
		t.Validation = result
		t.Message = msg
	})
}
