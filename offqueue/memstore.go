// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store. It satisfies the same contract as
// SQLiteStore without durability, which makes it useful in tests and in
// callers that explicitly opt out of persistence.
type MemStore struct {
	mu     sync.RWMutex
	queues map[Category]map[string]*QueueRecord
	logs   []*SyncLogEntry
	logIDs map[string]bool
}

// NewMemStore creates an empty in-memory store with all six queues.
func NewMemStore() *MemStore {
	queues := make(map[Category]map[string]*QueueRecord, len(Categories()))
	for _, cat := range Categories() {
		queues[cat] = make(map[string]*QueueRecord)
	}
	return &MemStore{
		queues: queues,
		logIDs: make(map[string]bool),
	}
}

func (m *MemStore) Put(ctx context.Context, cat Category, rec *QueueRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[cat]
	if !ok {
		return ErrNotFound
	}
	clone := *rec
	q[rec.LocalID] = &clone
	return nil
}

func (m *MemStore) Get(ctx context.Context, cat Category, localID string) (*QueueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.queues[cat][localID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MemStore) GetByStatus(ctx context.Context, cat Category, status SyncStatus) ([]*QueueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []*QueueRecord
	for _, rec := range m.queues[cat] {
		if rec.SyncStatus == status {
			clone := *rec
			records = append(records, &clone)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].NextAttempt.Equal(records[j].NextAttempt) {
			return records[i].NextAttempt.Before(records[j].NextAttempt)
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (m *MemStore) GetAll(ctx context.Context, cat Category) ([]*QueueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []*QueueRecord
	for _, rec := range m.queues[cat] {
		clone := *rec
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (m *MemStore) Delete(ctx context.Context, cat Category, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues[cat], localID)
	return nil
}

func (m *MemStore) AppendLog(ctx context.Context, entry *SyncLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logIDs[entry.LogID] {
		return nil // append-only, never overwrite
	}
	clone := *entry
	m.logIDs[entry.LogID] = true
	m.logs = append(m.logs, &clone)
	return nil
}

func (m *MemStore) Logs(ctx context.Context, limit int) ([]*SyncLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*SyncLogEntry, len(m.logs))
	copy(entries, m.logs)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
