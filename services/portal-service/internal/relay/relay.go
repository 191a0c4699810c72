// Package relay bridges upstream live updates to browsers. One upstream
// subscription exists per business while at least one browser stream is
// attached; the last detach cancels it. Acquire on activation, release on
// deactivation, exactly once each.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/joaopvieira/agendly/libs/sse"
	"github.com/joaopvieira/agendly/services/portal-service/internal/liveupdate"
)

type entry struct {
	sub  *liveupdate.Subscription
	refs int
}

type Manager struct {
	cfg    liveupdate.Config
	inv    liveupdate.Invalidator
	hub    *sse.Hub
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*entry
}

// NewManager wires upstream subscriptions to the local browser hub. cfg acts
// as a template; BusinessID is filled per attachment.
func NewManager(cfg liveupdate.Config, inv liveupdate.Invalidator, hub *sse.Hub, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		inv:    inv,
		hub:    hub,
		logger: logger,
		active: map[string]*entry{},
	}
}

// Attach records a browser listener for businessID, opening the upstream
// subscription on the first one. The returned release func is idempotent.
func (m *Manager) Attach(businessID string) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.active[businessID]
	if e == nil {
		cfg := m.cfg
		cfg.BusinessID = businessID
		e = &entry{sub: liveupdate.Subscribe(cfg, m.inv, m.forward(businessID), m.logger)}
		m.active[businessID] = e
		m.logger.Info("live update subscription opened", "business_id", businessID)
	}
	e.refs++

	var once sync.Once
	return func() {
		once.Do(func() { m.detach(businessID) })
	}
}

func (m *Manager) detach(businessID string) {
	m.mu.Lock()
	e := m.active[businessID]
	if e == nil {
		m.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.active, businessID)
	m.mu.Unlock()

	// Cancel outside the lock: it waits for the stream goroutine to exit.
	e.sub.Cancel()
	m.logger.Info("live update subscription closed", "business_id", businessID)
}

// Shutdown cancels every active subscription.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	m.active = map[string]*entry{}
	m.mu.Unlock()

	for _, e := range entries {
		e.sub.Cancel()
	}
}

// forward republishes the upstream event to local browser streams.
func (m *Manager) forward(businessID string) liveupdate.Callback {
	return func(appointment json.RawMessage) {
		envelope, err := json.Marshal(liveupdate.Event{
			Type:        liveupdate.EventTypeNewAppointment,
			Appointment: appointment,
		})
		if err != nil {
			m.logger.Error("failed to encode relay event", "business_id", businessID, "err", err)
			return
		}
		m.hub.Publish(businessID, envelope)
	}
}
