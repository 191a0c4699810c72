package sse

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one published event as a subscriber receives it.
type Message struct {
	// ID is the unique event id assigned at publish time.
	ID string
	// Data is the published payload.
	Data []byte
}

type subscriber struct {
	key string
	ch  chan Message
}

// Hub fans messages out to subscribers grouped by key (one key per tenant).
// Publishing never blocks: a subscriber whose buffer is full misses the
// message. Downstream handling must tolerate gaps, which holds here because
// consumers react by invalidating caches, not by applying deltas.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		subs:   map[*subscriber]struct{}{},
	}
}

// Publish delivers data to every subscriber of key. Each delivery carries a
// fresh event ID.
func (h *Hub) Publish(key string, data []byte) {
	msg := Message{ID: uuid.NewString(), Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.key != key {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("dropping event for slow subscriber", "key", key, "event_id", msg.ID)
		}
	}
}

// Subscribe registers a listener for key. The returned stop func is
// idempotent; after it returns the channel receives nothing further.
func (h *Hub) Subscribe(key string) (<-chan Message, func()) {
	sub := &subscriber{key: key, ch: make(chan Message, h.buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
	return sub.ch, stop
}

// SubscriberCount reports the current number of listeners for key.
func (h *Hub) SubscriberCount(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for sub := range h.subs {
		if sub.key == key {
			n++
		}
	}
	return n
}

// Handler serves the hub over a text/event-stream response. keyFn picks the
// subscription key for a request; an empty key is rejected.
func (h *Hub) Handler(keyFn func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		key := keyFn(r)
		if key == "" {
			http.Error(w, "missing subscription key", http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch, stop := h.Subscribe(key)
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// Heartbeat comments keep intermediaries from reaping idle streams.
		heartbeat := time.NewTicker(25 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := w.Write([]byte(": ping\n\n")); err != nil {
					return
				}
				flusher.Flush()
			case msg := <-ch:
				if _, err := w.Write(Encode(msg.ID, msg.Data)); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

// Encode frames a payload as a single server-sent event.
func Encode(id string, data []byte) []byte {
	out := make([]byte, 0, len(id)+len(data)+16)
	if id != "" {
		out = append(out, "id: "...)
		out = append(out, id...)
		out = append(out, '\n')
	}
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
