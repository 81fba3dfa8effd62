package offlog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeLogStore records ingest calls without a database.
type fakeLogStore struct {
	ingestErr  error
	recentErr  error
	gotUserID  string
	gotDevice  string
	gotEntries []LogEntry
	gotLimit   int
	logs       []DeviceLog
}

func (f *fakeLogStore) Ingest(ctx context.Context, userID, deviceID string, entries []LogEntry) (int, error) {
	f.gotUserID = userID
	f.gotDevice = deviceID
	f.gotEntries = entries
	if f.ingestErr != nil {
		return 0, f.ingestErr
	}
	return len(entries), nil
}

func (f *fakeLogStore) Recent(ctx context.Context, userID string, limit int) ([]DeviceLog, error) {
	f.gotUserID = userID
	f.gotLimit = limit
	return f.logs, f.recentErr
}

func newHandlerTest(t *testing.T, store LogStore) (http.Handler, string) {
	t.Helper()
	auth := NewJWTAuth("handler-test-secret")
	token, err := auth.GenerateToken("user-1", "device-9", time.Hour)
	require.NoError(t, err)
	handlers := NewHTTPLogHandlers(store, auth, nil)
	return handlers.Router(), token
}

func ingestBody(t *testing.T, entries ...LogEntry) *strings.Reader {
	t.Helper()
	data, err := json.Marshal(IngestRequest{Logs: entries})
	require.NoError(t, err)
	return strings.NewReader(string(data))
}

func TestHandleIngestAccepted(t *testing.T) {
	store := &fakeLogStore{}
	router, token := newHandlerTest(t, store)

	entry := LogEntry{
		Target:    "debts",
		Status:    StConflict,
		Message:   "server rejected replay with status 422",
		LocalID:   "debts_x",
		Metadata:  json.RawMessage(`{"http_status":422}`),
		Timestamp: time.Now().UnixMilli(),
	}
	r := httptest.NewRequest(http.MethodPost, "/sync/logs", ingestBody(t, entry))
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Accepted)

	// Identity comes from the token, never the body
	require.Equal(t, "user-1", store.gotUserID)
	require.Equal(t, "device-9", store.gotDevice)
	require.Len(t, store.gotEntries, 1)
	require.Equal(t, "debts_x", store.gotEntries[0].LocalID)
}

func TestHandleIngestRequiresAuth(t *testing.T) {
	store := &fakeLogStore{}
	router, _ := newHandlerTest(t, store)

	r := httptest.NewRequest(http.MethodPost, "/sync/logs", ingestBody(t, LogEntry{}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r = httptest.NewRequest(http.MethodPost, "/sync/logs", ingestBody(t, LogEntry{}))
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, store.gotUserID)
}

func TestHandleIngestMalformedBody(t *testing.T) {
	router, token := newHandlerTest(t, &fakeLogStore{})

	r := httptest.NewRequest(http.MethodPost, "/sync/logs", strings.NewReader("{not json"))
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "invalid_request", resp["error"])
}

func TestHandleIngestValidationFailure(t *testing.T) {
	store := &fakeLogStore{ingestErr: fmt.Errorf("%w: logs cannot be empty", ErrInvalidLogs)}
	router, token := newHandlerTest(t, store)

	r := httptest.NewRequest(http.MethodPost, "/sync/logs", strings.NewReader(`{"logs":[]}`))
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "invalid_logs", resp["error"])
}

func TestHandleIngestStorageFailure(t *testing.T) {
	store := &fakeLogStore{ingestErr: fmt.Errorf("connection refused")}
	router, token := newHandlerTest(t, store)

	r := httptest.NewRequest(http.MethodPost, "/sync/logs", ingestBody(t, LogEntry{
		Target: "sales", Status: StSynced, Timestamp: time.Now().UnixMilli(),
	}))
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleRecent(t *testing.T) {
	store := &fakeLogStore{logs: []DeviceLog{{
		ID:       "0c9a4b1e-0000-0000-0000-000000000001",
		UserID:   "user-1",
		DeviceID: "device-9",
		Target:   "sales",
		Status:   StSynced,
		LocalID:  "sales_abc",
	}}}
	router, token := newHandlerTest(t, store)

	r := httptest.NewRequest(http.MethodGet, "/sync/logs?limit=25", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", store.gotUserID)
	require.Equal(t, 25, store.gotLimit)

	var resp RecentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 1)
	require.Equal(t, "sales_abc", resp.Logs[0].LocalID)
}

func TestHandleRecentRejectsBadLimit(t *testing.T) {
	router, token := newHandlerTest(t, &fakeLogStore{})

	for _, limit := range []string{"abc", "-1"} {
		r := httptest.NewRequest(http.MethodGet, "/sync/logs?limit="+limit, nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		require.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}
