package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBroadcast_DeliversToConnectedClient(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleSSE(rec, req)
		close(done)
	}()

	// Give handleSSE a moment to register its channel before broadcasting.
	deadline := time.Now().Add(time.Second)
	for {
		s.sseMu.RLock()
		n := len(s.sseClients)
		s.sseMu.RUnlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	s.Broadcast("request:updated")
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(rec.Body.String(), "request:updated") {
		t.Errorf("body = %q, want it to contain the broadcast event", rec.Body.String())
	}
}

func TestBroadcast_NoClientsIsNoOp(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	s.Broadcast("request:updated")
}

func TestHandleSSE_UnsupportedFlusherReturns500(t *testing.T) {
	db := newFakeStore()
	s := newTestServer(t, db, &fakeHost{})

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	inner := httptest.NewRecorder()
	rec := &nonFlushingRecorder{inner: inner}

	s.handleSSE(rec, req)

	if inner.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", inner.Code)
	}
}

// nonFlushingRecorder wraps http.ResponseWriter without exposing Flush, so
// handleSSE's http.Flusher type assertion fails, exercising its fallback path.
type nonFlushingRecorder struct {
	inner http.ResponseWriter
}

func (r *nonFlushingRecorder) Header() http.Header         { return r.inner.Header() }
func (r *nonFlushingRecorder) Write(b []byte) (int, error) { return r.inner.Write(b) }
func (r *nonFlushingRecorder) WriteHeader(code int)        { r.inner.WriteHeader(code) }
