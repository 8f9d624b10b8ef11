// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package models provides data models for the scan orchestrator.
package models

import "time"

// ScannerVersion captures the server/feed version reported by a backend
// instance at the time a scan was launched, persisted alongside the task
// record so a result can always be traced to the feed that produced it.
type ScannerVersion struct {
	ServerVersion string    `json:"serverVersion"`
	FeedVersion   string    `json:"feedVersion"`
	PluginSetID   string    `json:"pluginSetId,omitempty"`
	ObservedAt    time.Time `json:"observedAt"`
}
