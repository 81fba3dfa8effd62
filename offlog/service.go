// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offlog is the server-side sink for the device audit trail: it
// ingests the best-effort sync-log pushes emitted by offline queue clients
// and keeps them in an append-only Postgres table for support diagnostics.
// Ingestion is advisory by design - clients swallow push failures, so this
// service must never be load-bearing for queue correctness.
package offlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidLogs marks batches rejected by validation, as opposed to
// storage failures.
var ErrInvalidLogs = errors.New("offlog: invalid log batch")

// ServiceConfig holds configuration for the log ingestion service.
type ServiceConfig struct {
	AppName      string // Application name for connection tracking
	MaxBatchSize int    // Maximum entries per ingest request (0 = unlimited)
	RecentLimit  int    // Default page size for Recent
}

// Service persists device sync logs. This is the main SDK component for
// applications hosting the ingestion endpoint.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig
}

// NewService creates the log service and initializes its schema.
func NewService(pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*Service, error) {
	if config == nil {
		config = &ServiceConfig{
			AppName:      "go-offqueue-logd",
			MaxBatchSize: 500,
			RecentLimit:  100,
		}
	}
	if config.RecentLimit <= 0 {
		config.RecentLimit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	service := &Service{
		pool:   pool,
		logger: logger,
		config: config,
	}

	ctx := context.Background()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := service.initializeSchemaInTx(ctx, tx); err != nil {
			logger.Error("Failed to initialize log schema", "error", err)
			return err
		}
		logger.Debug("Log schema initialized successfully")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize log service: %w", err)
	}
	return service, nil
}

// initializeSchemaInTx creates the append-only log table. Migrations are
// additive only; log rows are never updated or deleted by this service.
func (s *Service) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS offqueue_device_logs (
			id          UUID PRIMARY KEY,
			user_id     TEXT NOT NULL,
			device_id   TEXT NOT NULL,
			target      TEXT NOT NULL,
			status      TEXT NOT NULL CHECK (status IN ('queued','synced','failed','conflict')),
			message     TEXT,
			local_id    TEXT,
			metadata    JSONB,
			client_time TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offqueue_device_logs_user
			ON offqueue_device_logs (user_id, received_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_offqueue_device_logs_local
			ON offqueue_device_logs (local_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create log schema: %w", err)
		}
	}
	return nil
}

// ValidateEntries checks an ingest batch against the accepted status and
// target vocabularies before anything touches the database.
func (s *Service) ValidateEntries(entries []LogEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: logs cannot be empty", ErrInvalidLogs)
	}
	if s.config.MaxBatchSize > 0 && len(entries) > s.config.MaxBatchSize {
		return fmt.Errorf("%w: batch of %d exceeds limit of %d", ErrInvalidLogs, len(entries), s.config.MaxBatchSize)
	}
	for i, entry := range entries {
		switch entry.Status {
		case StQueued, StSynced, StFailed, StConflict:
		default:
			return fmt.Errorf("%w: logs[%d]: unknown status %q", ErrInvalidLogs, i, entry.Status)
		}
		if !knownTargets[entry.Target] {
			return fmt.Errorf("%w: logs[%d]: unknown target %q", ErrInvalidLogs, i, entry.Target)
		}
		if entry.Timestamp <= 0 {
			return fmt.Errorf("%w: logs[%d]: timestamp is required", ErrInvalidLogs, i)
		}
	}
	return nil
}

// Ingest stores a batch of client audit entries for one authenticated
// user/device pair. The batch is inserted atomically.
func (s *Service) Ingest(ctx context.Context, userID, deviceID string, entries []LogEntry) (int, error) {
	if err := s.ValidateEntries(entries); err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		var metadata any
		if len(entry.Metadata) > 0 {
			metadata = []byte(entry.Metadata)
		}
		batch.Queue(`
			INSERT INTO offqueue_device_logs
				(id, user_id, device_id, target, status, message, local_id, metadata, client_time)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
		`, uuid.New(), userID, deviceID, entry.Target, entry.Status,
			entry.Message, entry.LocalID, metadata, time.UnixMilli(entry.Timestamp))
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range entries {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("failed to insert log entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Ingested device logs", "user_id", userID,
		"device_id", deviceID, "count", len(entries))
	return len(entries), nil
}

// Recent returns the newest stored entries for a user, newest first.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]DeviceLog, error) {
	if limit <= 0 || limit > s.config.RecentLimit {
		limit = s.config.RecentLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_id, target, status,
			COALESCE(message, ''), COALESCE(local_id, ''), metadata, client_time, received_at
		FROM offqueue_device_logs
		WHERE user_id = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query device logs: %w", err)
	}
	defer rows.Close()

	var logs []DeviceLog
	for rows.Next() {
		var l DeviceLog
		var id uuid.UUID
		if err := rows.Scan(&id, &l.UserID, &l.DeviceID, &l.Target, &l.Status,
			&l.Message, &l.LocalID, &l.Metadata, &l.ClientTime, &l.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device log: %w", err)
		}
		l.ID = id.String()
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device logs: %w", err)
	}
	return logs, nil
}
