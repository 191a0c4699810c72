package liveupdate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, businessID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, businessID)
	return nil
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// streamServer writes each frame as one SSE data line, then holds the
// connection open until the client goes away.
func streamServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("business_id") == "" {
			t.Error("missing business_id query param")
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, f := range frames {
			_, _ = io.WriteString(w, "data: "+f+"\n\n")
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
}

func TestSubscriptionInvalidatesAndNotifies(t *testing.T) {
	srv := streamServer(t,
		`{"type":"new_appointment","appointment":{"id":"apt-1"}}`,
	)
	defer srv.Close()

	inv := &recordingInvalidator{}
	payloads := make(chan json.RawMessage, 1)
	sub := Subscribe(Config{URL: srv.URL, BusinessID: "biz-1"}, inv, func(a json.RawMessage) {
		payloads <- a
	}, testLogger())
	defer sub.Cancel()

	select {
	case p := <-payloads:
		var apt struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(p, &apt); err != nil {
			t.Fatalf("callback payload not JSON: %v", err)
		}
		if apt.ID != "apt-1" {
			t.Fatalf("unexpected appointment: %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	if inv.count() != 1 {
		t.Fatalf("expected 1 invalidation, got %d", inv.count())
	}
}

func TestSubscriptionSurvivesMalformedPayloads(t *testing.T) {
	srv := streamServer(t,
		`{not json`,
		`{"appointment":{"id":"apt-no-type"}}`,
		`{"type":"appointment_updated","appointment":{"id":"apt-other"}}`,
		`{"type":"new_appointment","appointment":{"id":"apt-2"}}`,
	)
	defer srv.Close()

	inv := &recordingInvalidator{}
	payloads := make(chan json.RawMessage, 4)
	sub := Subscribe(Config{URL: srv.URL, BusinessID: "biz-1"}, inv, func(a json.RawMessage) {
		payloads <- a
	}, testLogger())
	defer sub.Cancel()

	// Only the final, valid new_appointment frame gets through. The malformed
	// and foreign frames before it were dropped without closing the stream.
	select {
	case p := <-payloads:
		var apt struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(p, &apt); err != nil || apt.ID != "apt-2" {
			t.Fatalf("unexpected payload: %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("valid event after malformed ones never arrived")
	}

	if n := inv.count(); n != 1 {
		t.Fatalf("expected 1 invalidation, got %d", n)
	}
	select {
	case p := <-payloads:
		t.Fatalf("unexpected extra callback: %s", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateEventsAreHarmless(t *testing.T) {
	frame := `{"type":"new_appointment","appointment":{"id":"apt-3"}}`
	srv := streamServer(t, frame, frame, frame)
	defer srv.Close()

	inv := &recordingInvalidator{}
	payloads := make(chan json.RawMessage, 3)
	sub := Subscribe(Config{URL: srv.URL, BusinessID: "biz-1"}, inv, func(a json.RawMessage) {
		payloads <- a
	}, testLogger())
	defer sub.Cancel()

	for i := 0; i < 3; i++ {
		select {
		case <-payloads:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}
	if inv.count() != 3 {
		t.Fatalf("expected 3 invalidations, got %d", inv.count())
	}
}

func TestNoDeliveryAfterCancel(t *testing.T) {
	srv := streamServer(t)
	defer srv.Close()

	inv := &recordingInvalidator{}
	var delivered bool
	sub := Subscribe(Config{URL: srv.URL, BusinessID: "biz-1"}, inv, func(json.RawMessage) {
		delivered = true
	}, testLogger())

	sub.Cancel()

	// A frame arriving after Cancel must be dropped by the delivery gate.
	sub.handle(context.Background(), "biz-1",
		[]byte(`{"type":"new_appointment","appointment":{}}`),
		inv, func(json.RawMessage) { delivered = true }, testLogger())

	if delivered {
		t.Fatal("callback ran after Cancel returned")
	}
	if inv.count() != 0 {
		t.Fatal("invalidation ran after Cancel returned")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	srv := streamServer(t)
	defer srv.Close()

	sub := Subscribe(Config{URL: srv.URL, BusinessID: "biz-1"}, nil, nil, testLogger())
	sub.Cancel()
	sub.Cancel()
}
