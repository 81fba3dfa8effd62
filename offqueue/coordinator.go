// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// State is the externally observable connectivity state.
type State string

const (
	StateOffline State = "offline"
	StateOnline  State = "online"
	StateSyncing State = "syncing"
)

// Coordinator owns connectivity state, drives drain cycles and publishes
// aggregate queue status. Construct independent instances per device/store;
// there is no package-level singleton.
type Coordinator struct {
	client *Client
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	draining     bool // sole piece of shared state guarding concurrent drains
	lastSyncedAt time.Time
	lastStatus   AggregateStatus
	onChange     func(AggregateStatus) // in-process "queue updated" signal

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewCoordinator creates a coordinator over the queue client, starting in
// the offline state until a connectivity signal arrives.
func NewCoordinator(client *Client) *Coordinator {
	return &Coordinator{
		client: client,
		logger: slog.Default(),
		now:    time.Now,
		state:  StateOffline,
	}
}

// SetLogger replaces the default slog logger.
func (co *Coordinator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		co.logger = logger
	}
}

// OnChange registers the callback invoked after every status recomputation
// (the in-process equivalent of an "offline-queue-updated" event).
func (co *Coordinator) OnChange(fn func(AggregateStatus)) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.onChange = fn
}

// State returns the current connectivity state.
func (co *Coordinator) State() State {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state
}

// Status returns the last published aggregate status.
func (co *Coordinator) Status() AggregateStatus {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.lastStatus
}

// SetOnline handles the platform's connectivity-restored signal: it
// immediately drains all queues, then settles in the online state.
func (co *Coordinator) SetOnline(ctx context.Context) {
	co.mu.Lock()
	if co.state != StateOffline {
		co.mu.Unlock()
		return
	}
	co.state = StateOnline
	co.mu.Unlock()

	co.logger.Info("Connectivity restored, draining queues")
	co.SyncNow(ctx)
}

// SetOffline handles the connectivity-lost signal. No drain is attempted.
func (co *Coordinator) SetOffline() {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.state = StateOffline
	co.logger.Info("Connectivity lost")
}

// SyncNow runs one full drain cycle across all six queues and returns its
// aggregate result. Calls made while a drain is already in flight are
// coalesced into a no-op; a partial drain still returns the coordinator to
// the online state.
func (co *Coordinator) SyncNow(ctx context.Context) DrainResult {
	co.mu.Lock()
	if co.state == StateOffline || co.draining {
		co.mu.Unlock()
		return DrainResult{}
	}
	co.draining = true
	co.state = StateSyncing
	co.mu.Unlock()

	result := co.drainAll(ctx)

	co.mu.Lock()
	co.draining = false
	if co.state == StateSyncing {
		co.state = StateOnline
	}
	co.mu.Unlock()

	status := co.publish(ctx)

	// lastSyncedAt advances only when the cycle ends fully caught up: no
	// failures this cycle and nothing pending or conflicted system-wide.
	if status != nil && result.Failed == 0 && status.PendingCount == 0 && status.ConflictCount == 0 {
		co.mu.Lock()
		co.lastSyncedAt = co.now()
		co.lastStatus.LastSyncedAt = co.lastSyncedAt
		co.mu.Unlock()
	}

	co.logger.Info("Drain cycle finished", "synced", result.Synced,
		"failed", result.Failed, "conflicts", result.Conflicts)
	return result
}

// drainAll drains the six queues independently: parallel across categories,
// strictly sequential within each one.
func (co *Coordinator) drainAll(ctx context.Context) DrainResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		overall DrainResult
	)
	for _, cat := range Categories() {
		wg.Add(1)
		go func(cat Category) {
			defer wg.Done()
			result, err := co.client.Drain(ctx, cat)
			if err != nil {
				co.logger.Error("Queue drain failed", "category", cat, "error", err)
			}
			mu.Lock()
			overall = overall.add(result)
			mu.Unlock()
		}(cat)
	}
	wg.Wait()
	return overall
}

// QueueMutation enqueues a mutation and returns the provisional ack defined
// by the enqueue contract. The published status is recomputed afterwards.
func (co *Coordinator) QueueMutation(ctx context.Context, req MutationRequest) (Ack, error) {
	localID, err := co.client.Enqueue(ctx, req.Target, req.Endpoint, req.Method, req.Payload)
	if err != nil {
		return Ack{}, err
	}
	co.publish(ctx)
	return Ack{Queued: true, LocalID: localID}, nil
}

// RetryConflict re-arms one conflicted record for automatic drain.
func (co *Coordinator) RetryConflict(ctx context.Context, cat Category, localID string) error {
	if err := co.client.ResetConflict(ctx, cat, localID); err != nil {
		return err
	}
	co.publish(ctx)
	return nil
}

// RetryAllConflicts re-arms every conflicted record across all queues.
func (co *Coordinator) RetryAllConflicts(ctx context.Context) (int, error) {
	total := 0
	for _, cat := range Categories() {
		n, err := co.client.ResetAllConflicts(ctx, cat)
		total += n
		if err != nil {
			return total, err
		}
	}
	co.publish(ctx)
	return total, nil
}

// publish recomputes aggregate status straight from the store and notifies
// the change callback. Counters are never maintained incrementally, so they
// cannot drift from store contents.
func (co *Coordinator) publish(ctx context.Context) *AggregateStatus {
	status, err := co.client.AggregateStatus(ctx)
	if err != nil {
		co.logger.Error("Failed to recompute aggregate status", "error", err)
		return nil
	}

	co.mu.Lock()
	status.LastSyncedAt = co.lastSyncedAt
	co.lastStatus = *status
	fn := co.onChange
	co.mu.Unlock()

	if fn != nil {
		fn(*status)
	}
	return status
}

// StartSchedule arms a periodic drain trigger with a cron expression (e.g.
// "@every 30s"). Scheduled runs that land while a drain is in flight are
// skipped by the SyncNow guard.
func (co *Coordinator) StartSchedule(spec string) error {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.cron != nil {
		return fmt.Errorf("schedule already started")
	}
	c := cron.New()
	id, err := c.AddFunc(spec, func() {
		co.SyncNow(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule periodic sync: %w", err)
	}
	co.cron = c
	co.entryID = id
	c.Start()
	co.logger.Info("Periodic sync scheduled", "spec", spec)
	return nil
}

// StopSchedule stops the periodic trigger, waiting for a running cycle.
func (co *Coordinator) StopSchedule() {
	co.mu.Lock()
	c := co.cron
	co.cron = nil
	co.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
