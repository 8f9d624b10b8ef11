// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package models defines the data structures shared by the orchestrator's
// task store, worker, and API surfaces.
package models

import (
	"sync"
	"time"
)

// TaskStatus represents the current state of a scan task. TaskManager is the
// only component permitted to transition a task between these states.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"    // accepted, waiting for a scanner instance
	TaskRunning   TaskStatus = "running"   // launched against an assigned instance
	TaskCompleted TaskStatus = "completed" // backend reported completion, results validated
	TaskFailed    TaskStatus = "failed"    // backend reported a fatal error, or retries exhausted
	TaskTimeout   TaskStatus = "timeout"   // exceeded the worker's scan timeout
)

// terminal reports whether status is one TaskManager will never transition out of.
func (s TaskStatus) terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimeout:
		return true
	default:
		return false
	}
}

// Terminal reports whether status is one TaskManager will never transition out of.
func (s TaskStatus) Terminal() bool { return s.terminal() }

// ScanType selects the credential posture of a scan, mirroring the Nessus
// policy families this orchestrator drives.
type ScanType string

const (
	ScanUntrusted               ScanType = "untrusted"
	ScanAuthenticated           ScanType = "authenticated"
	ScanAuthenticatedPrivileged ScanType = "authenticated_privileged"
)

// Credentials carries scan-time authentication material. It is never
// persisted to the task store and never included in log output; Password
// carries the json:"-" tag so an accidental json.Marshal of a Task (or a
// struct embedding Credentials) cannot leak it.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	Method   string `json:"method,omitempty"` // e.g. "ssh", "windows", "snmp"
}

// Fingerprint returns the fields of Credentials that participate in the
// idempotency fingerprint. Password is deliberately excluded.
func (c *Credentials) Fingerprint() (username, method string) {
	if c == nil {
		return "", ""
	}
	return c.Username, c.Method
}

// ValidationResult is produced by the result validator after a scan
// artifact has been downloaded and parsed.
type ValidationResult struct {
	IsValid              bool           `json:"isValid"`
	AuthenticationStatus string         `json:"authenticationStatus"` // success/failed/partial/not_applicable/unknown
	Warnings             []string       `json:"warnings,omitempty"`
	Statistics           map[string]int `json:"statistics,omitempty"` // critical/high/medium/low/info/hostCount/totalNonInfo/byteSize
	Troubleshooting      []string       `json:"troubleshooting,omitempty"`
}

// Task is the orchestrator's unit of work: one requested scan against one
// pool, dispatched to exactly one scanner instance over its lifetime.
type Task struct {
	ID          string     `json:"id"`
	TraceID     string     `json:"traceId"`
	Pool        string     `json:"pool"`
	ScanType    ScanType   `json:"scanType"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Targets     []string   `json:"targets"`
	Status      TaskStatus `json:"status"`
	Message     string     `json:"message,omitempty"`

	SchemaProfile string `json:"schemaProfile,omitempty"` // minimal/summary/brief/full/custom
	InstancePin   string `json:"instancePin,omitempty"`   // operator-forced instance ID, optional

	AssignedInstanceID string          `json:"assignedInstanceId,omitempty"`
	ExternalScanID      string         `json:"externalScanId,omitempty"` // backend's own scan identifier
	ScannerVersion      *ScannerVersion `json:"scannerVersion,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	Validation *ValidationResult `json:"validation,omitempty"`

	Credentials *Credentials `json:"-"` // never serialized, never persisted to TaskStore

	progressMu sync.Mutex
	progress   string // transient, non-durable status-line; not part of task.json
}

// NewTask constructs a queued task with a fresh creation timestamp.
func NewTask(id, traceID, pool string, scanType ScanType, targets []string) *Task {
	return &Task{
		ID:        id,
		TraceID:   traceID,
		Pool:      pool,
		ScanType:  scanType,
		Targets:   targets,
		Status:    TaskQueued,
		Message:   "queued",
		CreatedAt: time.Now(),
	}
}

// SetProgress records a transient in-flight progress string (e.g. "42%
// complete"). Progress is never written to the durable task record.
func (t *Task) SetProgress(p string) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	t.progress = p
}

// Progress returns the last transient progress string, or "" if none.
func (t *Task) Progress() string {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	return t.progress
}

// ToSummary projects a Task to the compact view returned by list_tasks.
func (t *Task) ToSummary() *TaskSummary {
	return &TaskSummary{
		ID:                 t.ID,
		Pool:               t.Pool,
		ScanType:            string(t.ScanType),
		Status:              string(t.Status),
		Message:             t.Message,
		Targets:             t.Targets,
		AssignedInstanceID: t.AssignedInstanceID,
		CreatedAt:           t.CreatedAt,
		EndedAt:             t.EndedAt,
	}
}

// TaskSummary is the list_tasks / list view of a Task.
type TaskSummary struct {
	ID                 string     `json:"id"`
	Pool               string     `json:"pool"`
	ScanType           string     `json:"scanType"`
	Status             string     `json:"status"`
	Message            string     `json:"message,omitempty"`
	Targets            []string   `json:"targets"`
	AssignedInstanceID string     `json:"assignedInstanceId,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	EndedAt            *time.Time `json:"endedAt,omitempty"`
}

// SubmitRequest is the input to submit_scan.
type SubmitRequest struct {
	Pool          string       `json:"pool" binding:"required"`
	ScanType      ScanType     `json:"scanType" binding:"required"`
	Targets       []string     `json:"targets" binding:"required,min=1"`
	Name          string       `json:"name,omitempty"`
	Description   string       `json:"description,omitempty"`
	SchemaProfile string       `json:"schemaProfile,omitempty"`
	InstancePin   string       `json:"instancePin,omitempty"`
	Credentials   *Credentials `json:"credentials,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

// TaskListRequest represents query parameters for list_tasks.
type TaskListRequest struct {
	Page      int    `form:"page,default=1"`
	PageSize  int    `form:"pageSize,default=20"`
	Pool      string `form:"pool"`
	Status    string `form:"status"`
	CIDR      string `form:"cidr"` // filter tasks touching a target within this CIDR
	SortBy    string `form:"sortBy,default=createdAt"`
	SortOrder string `form:"sortOrder,default=desc"`
}

// TaskListResponse is the paginated response for list_tasks.
type TaskListResponse struct {
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	Tasks    []*TaskSummary `json:"tasks"`
}

// QueueStatusResponse summarizes one pool's backlog.
type QueueStatusResponse struct {
	Pool            string  `json:"pool"`
	QueueLength     int     `json:"queueLength"`
	DeadLetterCount int     `json:"deadLetterCount"`
	AverageWaitTime float64 `json:"averageWaitTime"` // seconds
}
