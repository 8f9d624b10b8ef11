// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package idempotency fingerprints submit_scan requests and records
// first-seen task IDs against them so a retried submission with the same
// idempotency key reuses the original task instead of launching a second
// scan.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/pkg/errors"
)

// DefaultTTL matches the record's visibility window: long enough to absorb
// a client's retry storm, short enough that the key space doesn't grow
// without bound.
const DefaultTTL = 48 * time.Hour

// Outcome classifies the result of Insert.
type Outcome int

const (
	Inserted Outcome = iota // first time this key/fingerprint pair was seen
	Existing                // key already recorded with the same fingerprint; reuse TaskID
	Conflict                // key already recorded with a DIFFERENT fingerprint
)

// Store is the idempotency store, backed by a redis.Cmdable.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// New wraps a redis.Cmdable with the default TTL.
func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb, ttl: DefaultTTL}
}

// WithTTL returns a copy of the store using a custom TTL.
func (s *Store) WithTTL(ttl time.Duration) *Store {
	return &Store{rdb: s.rdb, ttl: ttl}
}

func recordKey(key string) string { return "nessorch:idem:" + key }

type record struct {
	TaskID      string `json:"taskId"`
	Fingerprint string `json:"fingerprint"`
}

// Fingerprint computes the canonical SHA-256 fingerprint of a submit_scan
// request. Only fields that determine the backend call's identity
// participate; credentials.password is deliberately excluded so rotating a
// password mid-retry-window doesn't defeat idempotency, and so the
// fingerprinter never touches the one field that must never be persisted.
func Fingerprint(req *models.SubmitRequest) string {
	targets := append([]string(nil), req.Targets...)
	sort.Strings(targets)

	var username, method string
	if req.Credentials != nil {
		username, method = req.Credentials.Fingerprint()
	}

	parts := []string{
		"pool=" + req.Pool,
		"scanType=" + string(req.ScanType),
		"targets=" + strings.Join(targets, ","),
		"name=" + req.Name,
		"description=" + req.Description,
		"schemaProfile=" + req.SchemaProfile,
		"instancePin=" + req.InstancePin,
		"credUsername=" + username,
		"credMethod=" + method,
	}
	canonical, _ := json.Marshal(parts)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Insert atomically records a (key -> taskID, fingerprint) pair if the key
// is absent, and reports how the key's existing state compares to the
// caller's fingerprint.
func (s *Store) Insert(ctx context.Context, key, taskID, fingerprint string) (Outcome, string, error) {
	rec := record{TaskID: taskID, Fingerprint: fingerprint}
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, "", errors.WrapInternal(err, "marshaling idempotency record")
	}

	ok, err := s.rdb.SetNX(ctx, recordKey(key), b, s.ttl).Result()
	if err != nil {
		return 0, "", errors.WrapUnavailable(err, "IDEMPOTENCY_STORE_FAILED", "writing idempotency record")
	}
	if ok {
		return Inserted, taskID, nil
	}

	existingRaw, err := s.rdb.Get(ctx, recordKey(key)).Result()
	if err == redis.Nil {
		// Lost a race with a concurrent TTL expiry; treat as a fresh insert.
		return s.Insert(ctx, key, taskID, fingerprint)
	}
	if err != nil {
		return 0, "", errors.WrapUnavailable(err, "IDEMPOTENCY_READ_FAILED", "reading idempotency record")
	}
	var existing record
	if err := json.Unmarshal([]byte(existingRaw), &existing); err != nil {
		return 0, "", errors.WrapInternal(err, "decoding idempotency record")
	}
	if existing.Fingerprint != fingerprint {
		return Conflict, existing.TaskID, nil
	}
	return Existing, existing.TaskID, nil
}
