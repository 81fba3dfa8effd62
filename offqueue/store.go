// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"context"
	"errors"
)

var (
	// ErrStoreUnavailable wraps failures of the durable local store. Enqueue
	// surfaces it loudly so the caller can fall back to an immediate online
	// attempt instead of silently dropping the mutation.
	ErrStoreUnavailable = errors.New("offqueue: local store unavailable")

	// ErrNotFound is returned when a record does not exist in the addressed
	// queue.
	ErrNotFound = errors.New("offqueue: record not found")

	// ErrNotConflicted is returned by ResetConflict when the addressed record
	// is not in conflict state.
	ErrNotConflicted = errors.New("offqueue: record is not conflicted")
)

// Store is the durable local store holding one independent queue per
// category plus the append-only audit log. The production implementation is
// SQLite-backed (SQLiteStore); MemStore satisfies the same contract for
// tests and ephemeral use.
//
// All mutations to a record go through read-modify-write via Put; Put is
// idempotent by local_id.
type Store interface {
	// Put inserts or overwrites a record by local_id.
	Put(ctx context.Context, cat Category, rec *QueueRecord) error

	// Get returns a record by local_id, or ErrNotFound.
	Get(ctx context.Context, cat Category, localID string) (*QueueRecord, error)

	// GetByStatus returns all records in a queue with the given status,
	// backed by an index rather than a full scan.
	GetByStatus(ctx context.Context, cat Category, status SyncStatus) ([]*QueueRecord, error)

	// GetAll enumerates a full queue, ordered by creation time.
	GetAll(ctx context.Context, cat Category) ([]*QueueRecord, error)

	// Delete permanently removes a record. Used only after a confirmed
	// successful replay. Deleting a missing record is not an error.
	Delete(ctx context.Context, cat Category, localID string) error

	// AppendLog writes one immutable audit entry.
	AppendLog(ctx context.Context, entry *SyncLogEntry) error

	// Logs returns the most recent audit entries, newest first.
	Logs(ctx context.Context, limit int) ([]*SyncLogEntry, error)
}
