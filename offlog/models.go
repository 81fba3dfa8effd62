// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offlog

import (
	"encoding/json"
	"time"
)

// Log statuses accepted from clients. These mirror the queue lifecycle
// transitions on the device side.
const (
	StQueued   = "queued"
	StSynced   = "synced"
	StFailed   = "failed"
	StConflict = "conflict"
)

// Queue targets accepted from clients.
var knownTargets = map[string]bool{
	"sales":     true,
	"lab":       true,
	"expenses":  true,
	"debts":     true,
	"inventory": true,
	"payments":  true,
}

// LogEntry is the wire shape of one client audit record, as pushed by the
// device's fire-and-forget sync-log call.
type LogEntry struct {
	Target    string          `json:"target"`
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	LocalID   string          `json:"localId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp int64           `json:"timestamp"` // client clock, epoch millis
}

// IngestRequest is the POST /sync/logs request body.
type IngestRequest struct {
	Logs []LogEntry `json:"logs"`
}

// IngestResponse reports how many entries were stored.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// DeviceLog is one stored audit row.
type DeviceLog struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	DeviceID   string          `json:"device_id"`
	Target     string          `json:"target"`
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	LocalID    string          `json:"local_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	ClientTime time.Time       `json:"client_time"`
	ReceivedAt time.Time       `json:"received_at"`
}

// RecentResponse is the GET /sync/logs response body.
type RecentResponse struct {
	Logs []DeviceLog `json:"logs"`
}
