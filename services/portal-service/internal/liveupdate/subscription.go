// Package liveupdate keeps the portal's appointment view consistent with
// server-side mutations without polling: it holds one server-sent-event
// stream per subscribed business and turns new-appointment notifications
// into cache invalidations.
package liveupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// EventTypeNewAppointment is the only recognized event type. Everything else
// is ignored.
const EventTypeNewAppointment = "new_appointment"

// Event is the envelope carried on the stream. Appointment stays opaque: it
// is handed to the callback untouched and never validated beyond presence.
type Event struct {
	Type        string          `json:"type"`
	Appointment json.RawMessage `json:"appointment"`
}

// Invalidator marks cached appointment data stale so readers refetch.
// Invalidation is idempotent, which is what makes duplicate or out-of-order
// events harmless.
type Invalidator interface {
	Invalidate(ctx context.Context, businessID string) error
}

// Callback receives the opaque appointment payload of each recognized event.
type Callback func(appointment json.RawMessage)

type Config struct {
	// URL of the events endpoint (scheme://host:port, no path).
	URL string
	// BusinessID scopes the stream to one tenant.
	BusinessID string
	// HTTPClient must not set a total-request timeout: the stream is
	// long-lived. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// MinBackoff/MaxBackoff bound the reconnect delay. Defaults 1s/30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Subscription is one active live-update stream. Cancel closes the
// connection and guarantees that no callback runs after it returns, even for
// a message in flight at teardown time.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	// mu gates delivery: Cancel flips canceled under the same lock that
	// deliveries hold, so a delivery is either fully before or fully after
	// cancellation, never interleaved.
	mu       sync.Mutex
	canceled bool
}

// Subscribe opens the stream and starts dispatching in the background.
// Connection errors and malformed payloads are logged and survived; the
// subscription reconnects with capped exponential backoff until canceled.
func Subscribe(cfg Config, inv Invalidator, cb Callback, logger *slog.Logger) *Subscription {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, cfg, inv, cb, logger)
	return s
}

// Cancel tears the subscription down exactly once. Safe to call multiple
// times; it blocks until the stream goroutine has exited.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, cfg Config, inv Invalidator, cb Callback, logger *slog.Logger) {
	defer close(s.done)

	backoff := cfg.MinBackoff
	for {
		err := s.stream(ctx, cfg, inv, cb, logger)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("live update stream closed", "business_id", cfg.BusinessID, "err", err, "retry_in", backoff)
		} else {
			// Clean close means the connection worked; start the backoff over.
			backoff = cfg.MinBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}

// stream holds one connection open and dispatches until it breaks.
func (s *Subscription) stream(ctx context.Context, cfg Config, inv Invalidator, cb Callback, logger *slog.Logger) error {
	url := cfg.URL + "/api/v1/events?business_id=" + cfg.BusinessID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return fmt.Errorf("events endpoint returned status %d", resp.StatusCode)
	}

	reader := newEventReader(resp.Body)
	for {
		raw, err := reader.next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if len(raw.data) == 0 {
			continue
		}
		s.handle(ctx, cfg.BusinessID, raw.data, inv, cb, logger)
	}
}

// handle parses one envelope and applies its effect. Parse failures are
// logged and dropped; they never close the stream or reach the caller.
func (s *Subscription) handle(ctx context.Context, businessID string, data []byte, inv Invalidator, cb Callback, logger *slog.Logger) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		logger.Error("invalid live update payload", "business_id", businessID, "err", err)
		return
	}
	if evt.Type == "" {
		logger.Error("live update payload missing type", "business_id", businessID)
		return
	}
	if evt.Type != EventTypeNewAppointment {
		logger.Debug("ignoring live update", "business_id", businessID, "type", evt.Type)
		return
	}
	s.deliver(ctx, businessID, evt.Appointment, inv, cb, logger)
}

// deliver runs the invalidate-then-notify effect under the cancellation
// gate. Once Cancel has taken the lock, no further delivery can start.
func (s *Subscription) deliver(ctx context.Context, businessID string, appointment json.RawMessage, inv Invalidator, cb Callback, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return
	}

	if inv != nil {
		if err := inv.Invalidate(ctx, businessID); err != nil {
			logger.Error("appointment cache invalidation failed", "business_id", businessID, "err", err)
		}
	}
	if cb != nil {
		cb(appointment)
	}
}
