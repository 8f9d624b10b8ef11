// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestPushPopFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	q.Push(ctx, Entry{TaskID: "t1", Pool: "p", EnqueuedAt: time.Now()})
	q.Push(ctx, Entry{TaskID: "t2", Pool: "p", EnqueuedAt: time.Now()})

	first, err := q.Pop(ctx, "p", time.Second)
	if err != nil || first == nil || first.TaskID != "t1" {
		t.Fatalf("expected t1 first, got %+v err=%v", first, err)
	}
	second, err := q.Pop(ctx, "p", time.Second)
	if err != nil || second == nil || second.TaskID != "t2" {
		t.Fatalf("expected t2 second, got %+v err=%v", second, err)
	}
	third, err := q.Pop(ctx, "p", 50*time.Millisecond)
	if err != nil || third != nil {
		t.Fatalf("expected empty queue, got %+v err=%v", third, err)
	}
}

func TestDLQRetryClearsFailureAndRequeues(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	q.DeadLetter(ctx, DeadLetterEntry{
		Entry:    Entry{TaskID: "t1", Pool: "p"},
		FailedAt: now,
		Reason:   "backend error",
	})

	entry, err := q.DLQRetry(ctx, "p", "t1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if entry.TaskID != "t1" {
		t.Fatalf("expected t1 requeued, got %+v", entry)
	}

	if n, _ := q.DeadLetterLen(ctx, "p"); n != 0 {
		t.Errorf("expected dead-letter queue empty after retry, got %d", n)
	}
	popped, err := q.Pop(ctx, "p", time.Second)
	if err != nil || popped == nil || popped.TaskID != "t1" {
		t.Fatalf("expected t1 back on the main queue, got %+v err=%v", popped, err)
	}

	if _, err := q.DLQRetry(ctx, "p", "missing"); err == nil {
		t.Error("expected retrying a task not in the dead-letter queue to error")
	}
}

func TestDLQGetAndPurge(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	q.DeadLetter(ctx, DeadLetterEntry{Entry: Entry{TaskID: "t1", Pool: "p"}, FailedAt: now, Reason: "timeout"})
	q.DeadLetter(ctx, DeadLetterEntry{Entry: Entry{TaskID: "t2", Pool: "p"}, FailedAt: now.Add(time.Second), Reason: "backend error"})

	got, err := q.DLQGet(ctx, "p", "t2")
	if err != nil || got.Reason != "backend error" {
		t.Fatalf("expected to find t2 with its reason, got %+v err=%v", got, err)
	}

	purged, err := q.DLQPurge(ctx, "p")
	if err != nil || purged != 2 {
		t.Fatalf("expected to purge 2 entries, got %d err=%v", purged, err)
	}
	if n, _ := q.DeadLetterLen(ctx, "p"); n != 0 {
		t.Errorf("expected dead-letter queue empty after purge, got %d", n)
	}
}

func TestPeek(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	q.Push(ctx, Entry{TaskID: "t1", Pool: "p"})
	q.Push(ctx, Entry{TaskID: "t2", Pool: "p"})

	entries, err := q.Peek(ctx, "p", 1)
	if err != nil || len(entries) != 1 || entries[0].TaskID != "t1" {
		t.Fatalf("expected to peek t1 without removing it, got %+v err=%v", entries, err)
	}
	if n, _ := q.Len(ctx, "p"); n != 2 {
		t.Errorf("expected peek to leave the queue untouched, got length %d", n)
	}
}

func TestLen(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	q.Push(ctx, Entry{TaskID: "t1", Pool: "p"})
	q.Push(ctx, Entry{TaskID: "t2", Pool: "p"})

	n, err := q.Len(ctx, "p")
	if err != nil || n != 2 {
		t.Errorf("expected length 2, got %d err=%v", n, err)
	}
}

func TestDeadLetterOrdering(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	now := time.Now()

	q.DeadLetter(ctx, DeadLetterEntry{
		Entry:    Entry{TaskID: "later", Pool: "p"},
		FailedAt: now.Add(time.Minute),
		Reason:   "timeout",
	})
	q.DeadLetter(ctx, DeadLetterEntry{
		Entry:    Entry{TaskID: "earlier", Pool: "p"},
		FailedAt: now,
		Reason:   "backend error",
	})

	entries, err := q.ListDeadLetters(ctx, "p", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 || entries[0].TaskID != "earlier" || entries[1].TaskID != "later" {
		t.Errorf("expected dead letters sorted by failure time, got %+v", entries)
	}

	n, err := q.DeadLetterLen(ctx, "p")
	if err != nil || n != 2 {
		t.Errorf("expected dead-letter length 2, got %d err=%v", n, err)
	}
}
