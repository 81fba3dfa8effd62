package offlog

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newValidationService(maxBatch int) *Service {
	return &Service{
		logger: slog.Default(),
		config: &ServiceConfig{MaxBatchSize: maxBatch, RecentLimit: 100},
	}
}

func validEntry() LogEntry {
	return LogEntry{
		Target:    "sales",
		Status:    StSynced,
		LocalID:   "sales_abc",
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestValidateEntriesAccepts(t *testing.T) {
	s := newValidationService(0)

	entries := []LogEntry{validEntry()}
	for _, status := range []string{StQueued, StSynced, StFailed, StConflict} {
		e := validEntry()
		e.Status = status
		entries = append(entries, e)
	}
	for target := range knownTargets {
		e := validEntry()
		e.Target = target
		entries = append(entries, e)
	}

	require.NoError(t, s.ValidateEntries(entries))
}

func TestValidateEntriesRejects(t *testing.T) {
	s := newValidationService(2)

	err := s.ValidateEntries(nil)
	require.ErrorIs(t, err, ErrInvalidLogs)

	err = s.ValidateEntries([]LogEntry{validEntry(), validEntry(), validEntry()})
	require.ErrorIs(t, err, ErrInvalidLogs)
	require.ErrorContains(t, err, "exceeds limit")

	bad := validEntry()
	bad.Status = "retrying"
	err = s.ValidateEntries([]LogEntry{bad})
	require.ErrorIs(t, err, ErrInvalidLogs)
	require.ErrorContains(t, err, "unknown status")

	bad = validEntry()
	bad.Target = "prescriptions"
	err = s.ValidateEntries([]LogEntry{bad})
	require.ErrorIs(t, err, ErrInvalidLogs)
	require.ErrorContains(t, err, "unknown target")

	bad = validEntry()
	bad.Timestamp = 0
	err = s.ValidateEntries([]LogEntry{bad})
	require.ErrorIs(t, err, ErrInvalidLogs)
	require.ErrorContains(t, err, "timestamp")
}

func TestValidateEntriesUnlimitedBatch(t *testing.T) {
	s := newValidationService(0)

	entries := make([]LogEntry, 1000)
	for i := range entries {
		entries[i] = validEntry()
	}
	require.NoError(t, s.ValidateEntries(entries))
}
