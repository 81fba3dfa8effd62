// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"fmt"
	"time"
)

// Category identifies one of the six independent mutation queues.
// A record belongs to exactly one category for its entire life.
type Category string

const (
	CategorySales     Category = "sales"
	CategoryLab       Category = "lab"
	CategoryExpenses  Category = "expenses"
	CategoryDebts     Category = "debts"
	CategoryInventory Category = "inventory"
	CategoryPayments  Category = "payments"
)

// Categories returns all queue categories in a stable order.
func Categories() []Category {
	return []Category{
		CategorySales,
		CategoryLab,
		CategoryExpenses,
		CategoryDebts,
		CategoryInventory,
		CategoryPayments,
	}
}

// ValidCategory reports whether c is one of the six known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategorySales, CategoryLab, CategoryExpenses,
		CategoryDebts, CategoryInventory, CategoryPayments:
		return true
	default:
		return false
	}
}

// SyncStatus is the lifecycle state of a queued mutation.
//
// pending -> in_progress while a replay is in flight. A successful replay
// deletes the record (there is no terminal "synced" state in storage); a
// retryable failure moves it back to pending with a future next_attempt; a
// 409/422 rejection parks it in conflict until an explicit reset.
type SyncStatus string

const (
	StatusPending    SyncStatus = "pending"
	StatusInProgress SyncStatus = "in_progress"
	StatusConflict   SyncStatus = "conflict"
)

// Replay HTTP methods accepted by Enqueue.
const (
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

func validMethod(m string) bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	default:
		return false
	}
}

// QueueRecord is one intended mutation awaiting delivery to the server.
type QueueRecord struct {
	LocalID        string     `json:"local_id"`
	Category       Category   `json:"queue_name"`
	Endpoint       string     `json:"endpoint"`
	Method         string     `json:"method"`
	Payload        []byte     `json:"payload,omitempty"` // opaque JSON body, nil for DELETE
	CreatedAt      time.Time  `json:"created_at"`
	SyncStatus     SyncStatus `json:"sync_status"`
	Retries        int        `json:"retries"`
	NextAttempt    time.Time  `json:"next_attempt"`
	LastError      string     `json:"last_error,omitempty"`
	ConflictReason string     `json:"conflict_reason,omitempty"`
}

// EventStatus classifies an audit-trail lifecycle transition.
type EventStatus string

const (
	EventQueued   EventStatus = "queued"
	EventSynced   EventStatus = "synced"
	EventFailed   EventStatus = "failed"
	EventConflict EventStatus = "conflict"
)

// SyncLogEntry is an immutable local audit record of a lifecycle transition.
// Entries are append-only and exist purely for diagnostics display.
type SyncLogEntry struct {
	LogID     string         `json:"log_id"` // derived: {local_id}_{event}_{timestamp_ms}
	Target    Category       `json:"target"`
	Status    EventStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	LocalID   string         `json:"localId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// deriveLogID builds the append-only audit key.
func deriveLogID(localID string, status EventStatus, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", localID, status, at.UnixMilli())
}

// ConflictedRecord pairs a conflicted record with its originating queue for
// the flattened conflict list exposed to the UI.
type ConflictedRecord struct {
	Category Category     `json:"category"`
	Record   *QueueRecord `json:"record"`
}

// AggregateStatus is a pure projection over the six queues. It is never
// persisted and must always be recomputable from the store alone.
type AggregateStatus struct {
	PendingCount  int                `json:"pending_count"` // pending + in_progress across all queues
	ConflictCount int                `json:"conflict_count"`
	Conflicts     []ConflictedRecord `json:"conflicts,omitempty"`
	LastSyncedAt  time.Time          `json:"last_synced_at,omitzero"`
}

// DrainResult aggregates the outcome of one drain cycle for one category.
type DrainResult struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

func (r DrainResult) add(other DrainResult) DrainResult {
	return DrainResult{
		Synced:    r.Synced + other.Synced,
		Failed:    r.Failed + other.Failed,
		Conflicts: r.Conflicts + other.Conflicts,
	}
}

// MutationRequest is the enqueue contract consumed by business-logic callers.
type MutationRequest struct {
	Target   Category `json:"target"`
	Endpoint string   `json:"endpoint"`
	Method   string   `json:"method"`
	Payload  []byte   `json:"payload,omitempty"`
}

// Ack is the provisional acknowledgment returned for a queued mutation.
// It is deliberately not shaped like a server response: callers must treat
// the mutation as pending until it drains.
type Ack struct {
	Queued  bool   `json:"queued"`
	LocalID string `json:"local_id"`
}
