// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// outcome classifies one replay attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRetryable
)

// classifyStatus maps an HTTP status code to a replay outcome: 2xx is
// success, 409/422 is a sticky conflict, everything else is retryable.
// Note that 4xx codes other than 409/422 deliberately stay retryable.
func classifyStatus(code int) outcome {
	switch {
	case code >= 200 && code < 300:
		return outcomeSuccess
	case code == http.StatusConflict, code == http.StatusUnprocessableEntity:
		return outcomeConflict
	default:
		return outcomeRetryable
	}
}

// Drain replays all eligible records in one category, sequentially, and
// returns aggregate counts for the cycle. Per-record failures are captured
// into each record's state and never abort the drain of subsequent records;
// only a store enumeration failure returns a non-nil error.
func (c *Client) Drain(ctx context.Context, cat Category) (DrainResult, error) {
	var result DrainResult

	eligible, err := c.eligibleRecords(ctx, cat)
	if err != nil {
		return result, err
	}

	for _, rec := range eligible {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		// Mark in_progress before issuing the request so at most one attempt
		// is ever in flight per record.
		rec.SyncStatus = StatusInProgress
		if err := c.Store.Put(ctx, cat, rec); err != nil {
			c.logger.Warn("Failed to mark record in_progress, skipping",
				"category", cat, "local_id", rec.LocalID, "error", err)
			continue
		}

		status, body, replayErr := c.replay(ctx, rec)
		switch {
		case replayErr != nil:
			c.recordFailure(ctx, cat, rec, replayErr.Error())
			result.Failed++
		case classifyStatus(status) == outcomeSuccess:
			if err := c.Store.Delete(ctx, cat, rec.LocalID); err != nil {
				// The server applied the mutation but the local delete failed.
				// Keep the record pending; the server must treat the replay
				// idempotently on the next cycle.
				c.recordFailure(ctx, cat, rec, fmt.Sprintf("delete after success: %v", err))
				result.Failed++
				continue
			}
			result.Synced++
			c.emit(ctx, SyncEvent{
				Target:    cat,
				Status:    EventSynced,
				LocalID:   rec.LocalID,
				Message:   fmt.Sprintf("%s %s replayed (%d)", rec.Method, rec.Endpoint, status),
				Timestamp: c.now(),
			})
		case classifyStatus(status) == outcomeConflict:
			rec.SyncStatus = StatusConflict
			rec.LastError = body
			rec.ConflictReason = fmt.Sprintf("server rejected replay with status %d", status)
			if err := c.Store.Put(ctx, cat, rec); err != nil {
				c.logger.Error("Failed to persist conflict state",
					"category", cat, "local_id", rec.LocalID, "error", err)
			}
			result.Conflicts++
			c.emit(ctx, SyncEvent{
				Target:    cat,
				Status:    EventConflict,
				LocalID:   rec.LocalID,
				Message:   rec.ConflictReason,
				Metadata:  map[string]any{"http_status": status},
				Timestamp: c.now(),
			})
		default:
			c.recordFailure(ctx, cat, rec, fmt.Sprintf("server returned status %d: %s", status, body))
			result.Failed++
		}
	}

	return result, nil
}

// eligibleRecords returns records due for replay: everything in_progress
// (left over from a crash mid-drain) plus pending records whose next_attempt
// has arrived.
func (c *Client) eligibleRecords(ctx context.Context, cat Category) ([]*QueueRecord, error) {
	inProgress, err := c.Store.GetByStatus(ctx, cat, StatusInProgress)
	if err != nil {
		return nil, err
	}
	pending, err := c.Store.GetByStatus(ctx, cat, StatusPending)
	if err != nil {
		return nil, err
	}

	now := c.now()
	eligible := inProgress
	for _, rec := range pending {
		if !rec.NextAttempt.After(now) {
			eligible = append(eligible, rec)
		}
	}
	return eligible, nil
}

// recordFailure transitions a record back to pending with incremented retry
// count and a backoff-delayed next_attempt.
func (c *Client) recordFailure(ctx context.Context, cat Category, rec *QueueRecord, msg string) {
	delay := c.config.backoffDelay(rec.Retries)
	rec.SyncStatus = StatusPending
	rec.Retries++
	rec.NextAttempt = c.now().Add(delay)
	rec.LastError = msg
	if err := c.Store.Put(ctx, cat, rec); err != nil {
		c.logger.Error("Failed to persist retry state",
			"category", cat, "local_id", rec.LocalID, "error", err)
	}
	c.emit(ctx, SyncEvent{
		Target:    cat,
		Status:    EventFailed,
		LocalID:   rec.LocalID,
		Message:   msg,
		Metadata:  map[string]any{"retries": rec.Retries, "next_attempt": rec.NextAttempt.UnixMilli()},
		Timestamp: c.now(),
	})
	c.logger.Debug("Replay failed, rescheduled", "category", cat,
		"local_id", rec.LocalID, "retries", rec.Retries, "delay", delay)
}

// replay issues the stored mutation against the remote API. Auth credentials
// are read fresh at send time since tokens may rotate while a record waits
// in the queue.
func (c *Client) replay(ctx context.Context, rec *QueueRecord) (status int, body string, err error) {
	var reqBody io.Reader
	if rec.Method != MethodDelete && rec.Payload != nil {
		reqBody = bytes.NewReader(rec.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, rec.Method, c.BaseURL+rec.Endpoint, reqBody)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return 0, "", fmt.Errorf("failed to get token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data), nil
}
