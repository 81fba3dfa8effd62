// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package offqueue implements a per-device offline mutation queue: business
// mutations issued while the device is offline are persisted locally and
// replayed against the remote API once connectivity returns, with
// exponential backoff for retryable failures and sticky conflict states for
// 409/422 rejections.
package offqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is the queue manager: it enqueues mutations, drains pending records
// against the remote API and exposes conflict-resolution operations.
type Client struct {
	Store    Store
	BaseURL  string
	Token    func(context.Context) (string, error) // read fresh at send time; tokens may rotate
	HTTP     *http.Client
	Observer SyncObserver

	config *Config
	logger *slog.Logger
	now    func() time.Time
}

// Config holds tuning knobs for the queue client.
type Config struct {
	BackoffBase time.Duration // first retry delay, doubled per retry
	BackoffMax  time.Duration // backoff ceiling
	LogLimit    int           // max audit entries returned by RecentLogs
}

// DefaultConfig returns the stock configuration: 5s base delay doubling up
// to a 5 minute ceiling.
func DefaultConfig() *Config {
	return &Config{
		BackoffBase: 5 * time.Second,
		BackoffMax:  5 * time.Minute,
		LogLimit:    200,
	}
}

// NewClient creates a queue client over the given store. Token is invoked
// per replayed request. A nil config uses DefaultConfig; a nil observer
// disables the audit trail.
func NewClient(store Store, baseURL string, tok func(ctx context.Context) (string, error), config *Config) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		Store:   store,
		BaseURL: baseURL,
		Token:   tok,
		HTTP:    &http.Client{},
		config:  config,
		logger:  slog.Default(),
		now:     time.Now,
	}, nil
}

// SetLogger replaces the default slog logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Enqueue records an intended mutation for later replay and returns its
// local id. The caller receives only this provisional identifier, never a
// server-shaped response. Store failures propagate so the caller can fall
// back to an immediate online attempt.
func (c *Client) Enqueue(ctx context.Context, cat Category, endpoint, method string, payload []byte) (string, error) {
	if !ValidCategory(cat) {
		return "", fmt.Errorf("offqueue: unknown category %q", cat)
	}
	if !validMethod(method) {
		return "", fmt.Errorf("offqueue: unsupported method %q", method)
	}

	now := c.now()
	localID := newLocalID(cat)
	rec := &QueueRecord{
		LocalID:     localID,
		Category:    cat,
		Endpoint:    endpoint,
		Method:      method,
		Payload:     payload,
		CreatedAt:   now,
		SyncStatus:  StatusPending,
		Retries:     0,
		NextAttempt: now,
	}
	if err := c.Store.Put(ctx, cat, rec); err != nil {
		return "", err
	}

	c.emit(ctx, SyncEvent{
		Target:    cat,
		Status:    EventQueued,
		LocalID:   localID,
		Message:   fmt.Sprintf("%s %s queued", method, endpoint),
		Timestamp: now,
	})
	c.logger.Debug("Mutation queued", "category", cat, "local_id", localID,
		"method", method, "endpoint", endpoint)
	return localID, nil
}

// ResetConflict re-arms one conflicted record for automatic drain. This is
// the only path by which a conflict re-enters the drain cycle; conflicts are
// never auto-resolved.
func (c *Client) ResetConflict(ctx context.Context, cat Category, localID string) error {
	rec, err := c.Store.Get(ctx, cat, localID)
	if err != nil {
		return err
	}
	if rec.SyncStatus != StatusConflict {
		return ErrNotConflicted
	}

	rec.SyncStatus = StatusPending
	rec.Retries = 0
	rec.NextAttempt = c.now()
	rec.LastError = ""
	rec.ConflictReason = ""
	if err := c.Store.Put(ctx, cat, rec); err != nil {
		return err
	}
	c.logger.Info("Conflict reset", "category", cat, "local_id", localID)
	return nil
}

// ResetAllConflicts re-arms every conflicted record in a category and
// returns how many were reset.
func (c *Client) ResetAllConflicts(ctx context.Context, cat Category) (int, error) {
	conflicted, err := c.Store.GetByStatus(ctx, cat, StatusConflict)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, rec := range conflicted {
		if err := c.ResetConflict(ctx, cat, rec.LocalID); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// AggregateStatus recomputes pending/conflict counts and the flattened
// conflict list from the store. This is a pure projection; nothing here is
// cached or persisted.
func (c *Client) AggregateStatus(ctx context.Context) (*AggregateStatus, error) {
	status := &AggregateStatus{}
	for _, cat := range Categories() {
		records, err := c.Store.GetAll(ctx, cat)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			switch rec.SyncStatus {
			case StatusPending, StatusInProgress:
				status.PendingCount++
			case StatusConflict:
				status.ConflictCount++
				status.Conflicts = append(status.Conflicts, ConflictedRecord{
					Category: cat,
					Record:   rec,
				})
			}
		}
	}
	return status, nil
}

// RecentLogs returns the newest local audit entries for diagnostics display.
func (c *Client) RecentLogs(ctx context.Context) ([]*SyncLogEntry, error) {
	return c.Store.Logs(ctx, c.config.LogLimit)
}

// emit forwards a lifecycle event to the observer. Observers must never
// affect queue correctness, so a nil observer is simply skipped.
func (c *Client) emit(ctx context.Context, evt SyncEvent) {
	if c.Observer == nil {
		return
	}
	c.Observer.RecordEvent(ctx, evt)
}

// newLocalID generates a category-prefixed identifier that is collision-free
// with overwhelming probability. If UUID generation fails (entropy source
// unavailable), fall back to timestamp plus random suffix.
func newLocalID(cat Category) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s_%d-%06d", cat, time.Now().UnixNano(), rand.Intn(1_000_000))
	}
	return fmt.Sprintf("%s_%s", cat, id.String())
}
