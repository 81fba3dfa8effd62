// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is the current PRAGMA user_version. Migrations are additive
// only: a queue table that may hold pending work is never dropped.
const schemaVersion = 1

// SQLiteStore is the durable local store backed by a per-device SQLite file.
// Each category gets its own physical table keyed by local_id with secondary
// indexes on sync_status and next_attempt; audit entries live in an
// append-only sync_logs table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore initializes the queue schema on db and returns the store.
// Safe to call on an existing database; schema creation is idempotent.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := initializeSchema(db); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	// Enable WAL mode and foreign keys
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	for _, cat := range Categories() {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				local_id        TEXT PRIMARY KEY,
				endpoint        TEXT NOT NULL,
				method          TEXT NOT NULL CHECK (method IN ('POST','PUT','PATCH','DELETE')),
				payload         TEXT,
				created_at      INTEGER NOT NULL,
				sync_status     TEXT NOT NULL CHECK (sync_status IN ('pending','in_progress','conflict')),
				retries         INTEGER NOT NULL DEFAULT 0,
				next_attempt    INTEGER NOT NULL,
				last_error      TEXT,
				conflict_reason TEXT
			)`, queueTable(cat)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (sync_status)`,
				queueTable(cat), queueTable(cat)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_next_attempt ON %s (next_attempt, created_at)`,
				queueTable(cat), queueTable(cat)),
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to create queue table for %s: %w", cat, err)
			}
		}
	}

	logStmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_logs (
			log_id     TEXT PRIMARY KEY,
			target     TEXT NOT NULL,
			status     TEXT NOT NULL CHECK (status IN ('queued','synced','failed','conflict')),
			message    TEXT,
			local_id   TEXT,
			metadata   TEXT,
			timestamp  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_timestamp ON sync_logs (timestamp)`,
	}
	for _, stmt := range logStmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create sync_logs table: %w", err)
		}
	}

	return migrateSchema(db)
}

// migrateSchema applies additive migrations based on PRAGMA user_version.
// Existing queue contents must survive every upgrade.
func migrateSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	// Version 0 -> 1: baseline schema, created above. Future versions add
	// columns/indexes here with ALTER TABLE ADD COLUMN only.
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

func queueTable(cat Category) string {
	return "queue_" + string(cat)
}

func (s *SQLiteStore) Put(ctx context.Context, cat Category, rec *QueueRecord) error {
	if !ValidCategory(cat) {
		return fmt.Errorf("offqueue: unknown category %q", cat)
	}
	var payload sql.NullString
	if rec.Payload != nil {
		payload = sql.NullString{String: string(rec.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (local_id, endpoint, method, payload, created_at, sync_status,
			retries, next_attempt, last_error, conflict_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			endpoint = excluded.endpoint,
			method = excluded.method,
			payload = excluded.payload,
			created_at = excluded.created_at,
			sync_status = excluded.sync_status,
			retries = excluded.retries,
			next_attempt = excluded.next_attempt,
			last_error = excluded.last_error,
			conflict_reason = excluded.conflict_reason
	`, queueTable(cat)),
		rec.LocalID, rec.Endpoint, rec.Method, payload,
		rec.CreatedAt.UnixMilli(), string(rec.SyncStatus),
		rec.Retries, rec.NextAttempt.UnixMilli(),
		nullable(rec.LastError), nullable(rec.ConflictReason))
	if err != nil {
		return fmt.Errorf("%w: failed to put record: %v", ErrStoreUnavailable, err)
	}
	return nil
}

const recordColumns = `local_id, endpoint, method, payload, created_at, sync_status,
	retries, next_attempt, last_error, conflict_reason`

func (s *SQLiteStore) Get(ctx context.Context, cat Category, localID string) (*QueueRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE local_id = ?`, recordColumns, queueTable(cat)), localID)
	rec, err := scanRecord(cat, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get record: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetByStatus(ctx context.Context, cat Category, status SyncStatus) ([]*QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE sync_status = ? ORDER BY next_attempt, created_at`,
		recordColumns, queueTable(cat)), string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by status: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectRecords(cat, rows)
}

func (s *SQLiteStore) GetAll(ctx context.Context, cat Category) ([]*QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s ORDER BY created_at`, recordColumns, queueTable(cat)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate queue: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectRecords(cat, rows)
}

func (s *SQLiteStore) Delete(ctx context.Context, cat Category, localID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE local_id = ?`, queueTable(cat)), localID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete record: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry *SyncLogEntry) error {
	var metadata sql.NullString
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal log metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	// INSERT OR IGNORE keeps the log append-only: an existing entry is never
	// overwritten even if a duplicate derived id shows up.
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sync_logs (log_id, target, status, message, local_id, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.LogID, string(entry.Target), string(entry.Status),
		nullable(entry.Message), nullable(entry.LocalID), metadata, entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: failed to append sync log: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Logs(ctx context.Context, limit int) ([]*SyncLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, target, status, message, local_id, metadata, timestamp
		FROM sync_logs ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query sync logs: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []*SyncLogEntry
	for rows.Next() {
		var entry SyncLogEntry
		var target, status string
		var message, localID, metadata sql.NullString
		var ts int64
		if err := rows.Scan(&entry.LogID, &target, &status, &message, &localID, &metadata, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entry.Target = Category(target)
		entry.Status = EventStatus(status)
		entry.Message = message.String
		entry.LocalID = localID.String
		entry.Timestamp = time.UnixMilli(ts)
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(cat Category, row rowScanner) (*QueueRecord, error) {
	var rec QueueRecord
	var payload, lastError, conflictReason sql.NullString
	var status string
	var createdAt, nextAttempt int64
	err := row.Scan(&rec.LocalID, &rec.Endpoint, &rec.Method, &payload,
		&createdAt, &status, &rec.Retries, &nextAttempt, &lastError, &conflictReason)
	if err != nil {
		return nil, err
	}
	rec.Category = cat
	rec.SyncStatus = SyncStatus(status)
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.NextAttempt = time.UnixMilli(nextAttempt)
	rec.LastError = lastError.String
	rec.ConflictReason = conflictReason.String
	if payload.Valid {
		rec.Payload = []byte(payload.String)
	}
	return &rec, nil
}

func collectRecords(cat Category, rows *sql.Rows) ([]*QueueRecord, error) {
	var records []*QueueRecord
	for rows.Next() {
		rec, err := scanRecord(cat, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
