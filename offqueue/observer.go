// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SyncEvent is one queue lifecycle transition (queued/synced/failed/conflict)
// reported to observers.
type SyncEvent struct {
	Target    Category       `json:"target"`
	Status    EventStatus    `json:"status"`
	LocalID   string         `json:"localId,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"-"`
}

// SyncObserver receives lifecycle events from the queue manager. The queue
// protocol calls it unconditionally and never depends on it for correctness:
// implementations must not block and must swallow their own failures.
type SyncObserver interface {
	RecordEvent(ctx context.Context, evt SyncEvent)
}

// SyncObserverFunc adapts a function to the SyncObserver interface.
type SyncObserverFunc func(ctx context.Context, evt SyncEvent)

func (f SyncObserverFunc) RecordEvent(ctx context.Context, evt SyncEvent) {
	f(ctx, evt)
}

// MultiObserver fans one event out to several observers.
type MultiObserver []SyncObserver

func (m MultiObserver) RecordEvent(ctx context.Context, evt SyncEvent) {
	for _, obs := range m {
		if obs != nil {
			obs.RecordEvent(ctx, evt)
		}
	}
}

// StoreAudit appends events to the local append-only sync_logs store. Write
// failures are logged and swallowed; the audit trail is diagnostic, not
// authoritative.
type StoreAudit struct {
	Store  Store
	Logger *slog.Logger
}

func (a *StoreAudit) RecordEvent(ctx context.Context, evt SyncEvent) {
	entry := &SyncLogEntry{
		LogID:     deriveLogID(evt.LocalID, evt.Status, evt.Timestamp),
		Target:    evt.Target,
		Status:    evt.Status,
		Message:   evt.Message,
		LocalID:   evt.LocalID,
		Metadata:  evt.Metadata,
		Timestamp: evt.Timestamp,
	}
	if err := a.Store.AppendLog(ctx, entry); err != nil {
		a.logger().Warn("Failed to append local sync log", "log_id", entry.LogID, "error", err)
	}
}

func (a *StoreAudit) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// remoteLogEntry is the wire shape for the POST /sync/logs contract.
type remoteLogEntry struct {
	Target    Category       `json:"target"`
	Status    EventStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	LocalID   string         `json:"localId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type remoteLogRequest struct {
	Logs []remoteLogEntry `json:"logs"`
}

// RemotePusher mirrors audit events to the server's sync-log endpoint,
// fire-and-forget. The push is skipped entirely while offline, and failures
// are logged locally only; they never affect queue state.
type RemotePusher struct {
	BaseURL string
	Token   func(context.Context) (string, error)
	HTTP    *http.Client
	Online  func() bool // skip the push when this reports offline
	Logger  *slog.Logger
}

func (p *RemotePusher) RecordEvent(ctx context.Context, evt SyncEvent) {
	if p.Online != nil && !p.Online() {
		return
	}
	// Detach from the caller's context: the drain must never wait on, or be
	// cancelled alongside, an audit push.
	go func() {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.Push(pushCtx, []SyncEvent{evt}); err != nil {
			p.logger().Warn("Sync log push failed", "target", evt.Target,
				"local_id", evt.LocalID, "error", err)
		}
	}()
}

// Push delivers a batch of events synchronously. RecordEvent wraps it in a
// goroutine; tests and bulk flushes can call it directly.
func (p *RemotePusher) Push(ctx context.Context, events []SyncEvent) error {
	if len(events) == 0 {
		return nil
	}
	req := remoteLogRequest{Logs: make([]remoteLogEntry, 0, len(events))}
	for _, evt := range events {
		req.Logs = append(req.Logs, remoteLogEntry{
			Target:    evt.Target,
			Status:    evt.Status,
			Message:   evt.Message,
			LocalID:   evt.LocalID,
			Metadata:  evt.Metadata,
			Timestamp: evt.Timestamp.UnixMilli(),
		})
	}

	jsonData, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("failed to marshal sync logs: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/sync/logs", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.Token != nil {
		token, err := p.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send sync logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (p *RemotePusher) httpClient() *http.Client {
	if p.HTTP != nil {
		return p.HTTP
	}
	return http.DefaultClient
}

func (p *RemotePusher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
