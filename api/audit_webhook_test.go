package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWebhook(t *testing.T, url, header string) *auditWebhook {
	t.Helper()
	wh := newAuditWebhook(url, header, slog.New(slog.NewTextHandler(io.Discard, nil)))
	wh.retryDelay = 10 * time.Millisecond
	return wh
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var body map[string]any
	var header http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	wh := testWebhook(t, srv.URL, "Authorization: Bearer collector-token")
	wh.enqueue(webhookEvent{
		Event:      string(AuditPasswordResetFail),
		EventID:    "evt-1",
		RequestID:  "req-1",
		RemoteAddr: "10.0.0.1:5555",
		Reason:     "artifact_stale",
		Timestamp:  "2026-06-15T12:00:00Z",
	})
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, body)
	assert.Equal(t, "password_reset_failure", body["event"])
	assert.Equal(t, "evt-1", body["event_id"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "artifact_stale", body["reason"])
	assert.NotContains(t, body, "count")
	assert.Equal(t, "Bearer collector-token", header.Get("Authorization"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestWebhookRetries(t *testing.T) {
	t.Run("RetryOn500", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}))
		defer srv.Close()

		wh := testWebhook(t, srv.URL, "")
		wh.enqueue(webhookEvent{Event: "logout"})
		wh.close()
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("NoRetryOn400", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		wh := testWebhook(t, srv.URL, "")
		wh.enqueue(webhookEvent{Event: "logout"})
		wh.close()
		assert.Equal(t, int32(1), attempts.Load())
	})
}

func TestWebhookCloseDrains(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := testWebhook(t, srv.URL, "")
	for range 5 {
		wh.enqueue(webhookEvent{Event: "login_success"})
	}
	wh.close()
	wh.close()
	assert.Equal(t, int32(5), count.Load())
}

func TestWebhookQueueFullDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	wh := &auditWebhook{
		url:    srv.URL,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		events: make(chan webhookEvent, 2),
	}
	wh.wg.Add(1)
	go wh.loop()

	done := make(chan struct{})
	go func() {
		for range 10 {
			wh.enqueue(webhookEvent{Event: "flood"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}
