package adminserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"runloop/internal/obslog"
	"runloop/internal/poller"
	"runloop/internal/queue"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := queue.NewMemoryStore("ns1", time.Now)
	return New(Config{Addr: ":0", Namespace: "ns1"}, store, nil, obslog.Noop{})
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzReturnsOKWithNoRunners(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestMetricsEndpointServesPrometheusExposition(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestEventsStreamsPollerEventsToSubscriber(t *testing.T) {
	store := queue.NewMemoryStore("ns1", time.Now)
	p := poller.New(store, nil, poller.Config{RunnerID: "runner-test"}, obslog.Noop{})
	s := New(Config{Addr: ":0", Namespace: "ns1"}, store, p, obslog.Noop{})

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	done := make(chan poller.Event, 1)
	go func() {
		var ev poller.Event
		if err := conn.ReadJSON(&ev); err == nil {
			done <- ev
		}
	}()

	// Give the subscriber goroutine time to register before emitting.
	time.Sleep(50 * time.Millisecond)
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop(ctx)

	select {
	case ev := <-done:
		if ev.Type == "" {
			t.Fatalf("expected a non-empty event type")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a poller event over the websocket")
	}
}
