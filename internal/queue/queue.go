// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package queue implements the per-pool FIFO task queue and its dead-letter
// queue on top of a redis.Cmdable, so the orchestrator core only assumes
// atomic pop and atomic sorted-set operations from its backing store —
// satisfied equally by a real Redis server or github.com/alicebob/miniredis/v2
// in tests.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nessorch/orchestrator/internal/pkg/errors"
)

// Entry is one FIFO queue element: enough to re-dispatch a task without
// re-reading the full task record from the task store on every poll.
type Entry struct {
	TaskID     string    `json:"taskId"`
	Pool       string    `json:"pool"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// DeadLetterEntry records why a task was moved off the main queue.
type DeadLetterEntry struct {
	Entry
	FailedAt time.Time `json:"failedAt"`
	Reason   string    `json:"reason"`
}

// Queue is the per-pool FIFO + dead-letter queue.
type Queue struct {
	rdb redis.Cmdable
}

// New wraps a redis.Cmdable (a *redis.Client in production, or a client
// pointed at a github.com/alicebob/miniredis/v2 instance in tests).
func New(rdb redis.Cmdable) *Queue {
	return &Queue{rdb: rdb}
}

func mainKey(pool string) string { return "nessorch:queue:" + pool }
func dlqKey(pool string) string  { return "nessorch:dlq:" + pool }

// Push appends a task to the tail of its pool's FIFO queue.
func (q *Queue) Push(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInternal(err, "marshaling queue entry")
	}
	if err := q.rdb.RPush(ctx, mainKey(e.Pool), b).Err(); err != nil {
		return errors.WrapUnavailable(err, "QUEUE_PUSH_FAILED", "pushing to queue")
	}
	return nil
}

// Pop blocks for up to timeout waiting for a task at the head of a pool's
// FIFO queue, returning (nil, nil) on timeout with nothing queued. It uses
// Redis's BLPOP rather than a poll-and-sleep loop, so an idle pool costs the
// dispatch loop nothing beyond one blocked connection.
func (q *Queue) Pop(ctx context.Context, pool string, timeout time.Duration) (*Entry, error) {
	res, err := q.rdb.BLPop(ctx, timeout, mainKey(pool)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapUnavailable(err, "QUEUE_POP_FAILED", "popping from queue")
	}
	// BLPop on a single key returns [key, value].
	if len(res) != 2 {
		return nil, errors.WrapInternal(fmt.Errorf("unexpected BLPOP reply shape: %v", res), "popping from queue")
	}
	var e Entry
	if err := json.Unmarshal([]byte(res[1]), &e); err != nil {
		return nil, errors.WrapInternal(err, "decoding queue entry")
	}
	return &e, nil
}

// Len returns the number of tasks currently queued for a pool.
func (q *Queue) Len(ctx context.Context, pool string) (int64, error) {
	n, err := q.rdb.LLen(ctx, mainKey(pool)).Result()
	if err != nil {
		return 0, errors.WrapUnavailable(err, "QUEUE_LEN_FAILED", "reading queue length")
	}
	return n, nil
}

// DeadLetter moves a failed task into the pool's dead-letter sorted set,
// scored by failure time so the most recent failures sort last.
func (q *Queue) DeadLetter(ctx context.Context, e DeadLetterEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInternal(err, "marshaling dead-letter entry")
	}
	score := float64(e.FailedAt.UnixNano())
	if err := q.rdb.ZAdd(ctx, dlqKey(e.Pool), redis.Z{Score: score, Member: b}).Err(); err != nil {
		return errors.WrapUnavailable(err, "DLQ_ADD_FAILED", "adding to dead-letter queue")
	}
	return nil
}

// DeadLetterLen returns the number of entries in a pool's dead-letter queue.
func (q *Queue) DeadLetterLen(ctx context.Context, pool string) (int64, error) {
	n, err := q.rdb.ZCard(ctx, dlqKey(pool)).Result()
	if err != nil {
		return 0, errors.WrapUnavailable(err, "DLQ_LEN_FAILED", "reading dead-letter length")
	}
	return n, nil
}

// ListDeadLetters returns dead-letter entries ordered by failure time
// (oldest first), for administrative inspection. limit <= 0 means "all".
func (q *Queue) ListDeadLetters(ctx context.Context, pool string, limit int64) ([]DeadLetterEntry, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	members, err := q.rdb.ZRange(ctx, dlqKey(pool), 0, stop).Result()
	if err != nil {
		return nil, errors.WrapUnavailable(err, "DLQ_RANGE_FAILED", "reading dead-letter queue")
	}
	return decodeDeadLetters(members)
}

// Peek returns up to n entries at the head of a pool's main queue without
// removing them, for administrative inspection of the backlog.
func (q *Queue) Peek(ctx context.Context, pool string, n int64) ([]Entry, error) {
	if n <= 0 {
		n = -1
	} else {
		n--
	}
	members, err := q.rdb.LRange(ctx, mainKey(pool), 0, n).Result()
	if err != nil {
		return nil, errors.WrapUnavailable(err, "QUEUE_PEEK_FAILED", "peeking at queue")
	}
	out := make([]Entry, 0, len(members))
	for _, m := range members {
		var e Entry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, errors.WrapInternal(err, "decoding queue entry")
		}
		out = append(out, e)
	}
	return out, nil
}

// DLQGet returns one dead-letter entry by task ID, for administrative
// inspection of why a specific task was dead-lettered.
func (q *Queue) DLQGet(ctx context.Context, pool, taskID string) (*DeadLetterEntry, error) {
	members, err := q.rdb.ZRange(ctx, dlqKey(pool), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapUnavailable(err, "DLQ_RANGE_FAILED", "reading dead-letter queue")
	}
	entries, err := decodeDeadLetters(members)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].TaskID == taskID {
			return &entries[i], nil
		}
	}
	return nil, errors.WrapNotFound(fmt.Errorf("task %s", taskID), "DLQ_ENTRY_NOT_FOUND", "task not found in dead-letter queue")
}

// DLQRetry is the deliberate administrative action that moves a dead-lettered
// task back onto the head of its pool's main queue, clearing its failure
// annotations. It returns the re-queued Entry, or an error if taskID is not
// currently in the dead-letter queue.
func (q *Queue) DLQRetry(ctx context.Context, pool, taskID string) (*Entry, error) {
	members, err := q.rdb.ZRange(ctx, dlqKey(pool), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapUnavailable(err, "DLQ_RANGE_FAILED", "reading dead-letter queue")
	}
	for _, m := range members {
		var dle DeadLetterEntry
		if err := json.Unmarshal([]byte(m), &dle); err != nil {
			return nil, errors.WrapInternal(err, "decoding dead-letter entry")
		}
		if dle.TaskID != taskID {
			continue
		}
		if err := q.rdb.ZRem(ctx, dlqKey(pool), m).Err(); err != nil {
			return nil, errors.WrapUnavailable(err, "DLQ_REMOVE_FAILED", "removing from dead-letter queue")
		}
		entry := Entry{TaskID: dle.TaskID, Pool: dle.Pool, EnqueuedAt: time.Now()}
		b, err := json.Marshal(entry)
		if err != nil {
			return nil, errors.WrapInternal(err, "marshaling queue entry")
		}
		if err := q.rdb.LPush(ctx, mainKey(pool), b).Err(); err != nil {
			return nil, errors.WrapUnavailable(err, "QUEUE_PUSH_FAILED", "re-pushing retried task")
		}
		return &entry, nil
	}
	return nil, errors.WrapNotFound(fmt.Errorf("task %s", taskID), "DLQ_ENTRY_NOT_FOUND", "task not found in dead-letter queue")
}

// DLQPurge discards every entry in a pool's dead-letter queue and returns how
// many were removed.
func (q *Queue) DLQPurge(ctx context.Context, pool string) (int64, error) {
	n, err := q.rdb.ZCard(ctx, dlqKey(pool)).Result()
	if err != nil {
		return 0, errors.WrapUnavailable(err, "DLQ_LEN_FAILED", "reading dead-letter length")
	}
	if err := q.rdb.Del(ctx, dlqKey(pool)).Err(); err != nil {
		return 0, errors.WrapUnavailable(err, "DLQ_PURGE_FAILED", "purging dead-letter queue")
	}
	return n, nil
}

func decodeDeadLetters(members []string) ([]DeadLetterEntry, error) {
	out := make([]DeadLetterEntry, 0, len(members))
	for _, m := range members {
		var e DeadLetterEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, errors.WrapInternal(err, fmt.Sprintf("decoding dead-letter entry: %v", err))
		}
		out = append(out, e)
	}
	return out, nil
}
