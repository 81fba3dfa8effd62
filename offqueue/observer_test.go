package offqueue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMultiObserverFanOut(t *testing.T) {
	var got []EventStatus
	obs := MultiObserver{
		nil, // nil members are skipped
		SyncObserverFunc(func(ctx context.Context, evt SyncEvent) {
			got = append(got, evt.Status)
		}),
		SyncObserverFunc(func(ctx context.Context, evt SyncEvent) {
			got = append(got, evt.Status)
		}),
	}

	obs.RecordEvent(context.Background(), SyncEvent{Target: CategorySales, Status: EventSynced})
	require.Equal(t, []EventStatus{EventSynced, EventSynced}, got)
}

func TestRemotePusherPush(t *testing.T) {
	var gotAuth string
	var gotBody remoteLogRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sync/logs", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	pusher := &RemotePusher{
		BaseURL: server.URL,
		Token: func(ctx context.Context) (string, error) {
			return "tok-log", nil
		},
	}

	at := time.Now()
	err := pusher.Push(context.Background(), []SyncEvent{{
		Target:    CategoryDebts,
		Status:    EventFailed,
		Message:   "server returned status 502",
		LocalID:   "debts_1",
		Metadata:  map[string]any{"retries": float64(2)},
		Timestamp: at,
	}})
	require.NoError(t, err)

	require.Equal(t, "Bearer tok-log", gotAuth)
	require.Len(t, gotBody.Logs, 1)
	entry := gotBody.Logs[0]
	require.Equal(t, CategoryDebts, entry.Target)
	require.Equal(t, EventFailed, entry.Status)
	require.Equal(t, "debts_1", entry.LocalID)
	require.Equal(t, "server returned status 502", entry.Message)
	require.Equal(t, at.UnixMilli(), entry.Timestamp)
}

func TestRemotePusherPushRejectedByServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad batch", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	pusher := &RemotePusher{BaseURL: server.URL}
	err := pusher.Push(context.Background(), []SyncEvent{{Target: CategorySales, Status: EventQueued}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "422")
}

func TestRemotePusherSkipsWhileOffline(t *testing.T) {
	var requests int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pusher := &RemotePusher{
		BaseURL: server.URL,
		Online:  func() bool { return false },
	}

	pusher.RecordEvent(context.Background(), SyncEvent{Target: CategorySales, Status: EventQueued})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, requests)
}

func TestRemotePusherFireAndForget(t *testing.T) {
	delivered := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(delivered)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pusher := &RemotePusher{
		BaseURL: server.URL,
		Online:  func() bool { return true },
	}

	// A cancelled caller context must not cancel the detached push
	ctx, cancel := context.WithCancel(context.Background())
	pusher.RecordEvent(ctx, SyncEvent{Target: CategoryLab, Status: EventSynced, Timestamp: time.Now()})
	cancel()

	select {
	case <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("detached push never reached the server")
	}
}

func TestRemotePusherEmptyBatchIsNoop(t *testing.T) {
	pusher := &RemotePusher{BaseURL: "http://unused"}
	require.NoError(t, pusher.Push(context.Background(), nil))
}

func TestStoreAuditSwallowsWriteFailure(t *testing.T) {
	audit := &StoreAudit{Store: &failingStore{Store: NewMemStore()}}

	// Must not panic and must not surface the store error
	audit.RecordEvent(context.Background(), SyncEvent{
		Target:    CategorySales,
		Status:    EventQueued,
		LocalID:   "sales_1",
		Timestamp: time.Now(),
	})
}

func TestDrainEmitsObserverEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sales/ok":
			w.WriteHeader(http.StatusOK)
		case "/api/sales/conflict":
			http.Error(w, "stale", http.StatusConflict)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	store := NewMemStore()
	client, err := NewClient(store, server.URL, nil, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	events := map[EventStatus]int{}
	client.Observer = SyncObserverFunc(func(ctx context.Context, evt SyncEvent) {
		mu.Lock()
		events[evt.Status]++
		mu.Unlock()
	})
	ctx := context.Background()

	_, err = client.Enqueue(ctx, CategorySales, "/api/sales/ok", MethodPost, []byte(`{}`))
	require.NoError(t, err)
	_, err = client.Enqueue(ctx, CategorySales, "/api/sales/conflict", MethodPost, []byte(`{}`))
	require.NoError(t, err)
	_, err = client.Enqueue(ctx, CategorySales, "/api/sales/fail", MethodPost, []byte(`{}`))
	require.NoError(t, err)

	_, err = client.Drain(ctx, CategorySales)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, events[EventQueued])
	require.Equal(t, 1, events[EventSynced])
	require.Equal(t, 1, events[EventConflict])
	require.Equal(t, 1, events[EventFailed])
}
