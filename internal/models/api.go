// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

package models

import "time"

// APIResponse is the uniform JSON envelope for all HTTP endpoints.
type APIResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	Error     *APIError   `json:"error,omitempty"`
}

// APIError carries a machine-readable code and a human-readable message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncStatus is the response body for the sync status endpoint.
type SyncStatus struct {
	Source        string     `json:"source"`
	Key           string     `json:"key"`
	Cursor        *string    `json:"cursor,omitempty"`
	Etag          *string    `json:"etag,omitempty"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastErrorAt   *time.Time `json:"lastErrorAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
	LastStats     *RunStats  `json:"lastStats,omitempty"`
	Projects      int        `json:"projects"`
}
