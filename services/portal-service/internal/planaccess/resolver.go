// Package planaccess resolves a business's subscription plan and exposes
// fail-closed access predicates to the portal's guards. The resolver governs
// paid-feature gating, so an indeterminate or failed resolution is always
// treated as denial, never as access.
package planaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joaopvieira/agendly/libs/plan"
)

const DefaultTTL = 5 * time.Minute

// Status reports how a snapshot was obtained.
type Status int

const (
	// StatusLoading means no resolution has completed yet.
	StatusLoading Status = iota
	// StatusReady means the snapshot holds plan data from a successful fetch.
	StatusReady
	// StatusDegraded means the last fetch failed; all permissions are denied
	// and usage is unavailable until the window expires or Invalidate runs.
	StatusDegraded
)

// LimitInfo describes professional headcount against the plan ceiling.
// Remaining goes negative on overage so callers can surface it.
type LimitInfo struct {
	Current   int  `json:"current"`
	Limit     int  `json:"limit"`
	CanAdd    bool `json:"can_add"`
	Remaining int  `json:"remaining"`
}

// Snapshot is an immutable view of one resolution. Concurrent readers always
// observe a whole unit; the resolver replaces snapshots, never mutates them.
type Snapshot struct {
	status  Status
	data    plan.Data
	usageOK bool
}

func (s Snapshot) Status() Status { return s.status }

// HasPermission reports whether the plan grants f. Unknown keys, unresolved
// state and degraded state all come out false.
func (s Snapshot) HasPermission(f plan.Feature) bool {
	return s.data.Plan.Permissions[f]
}

// CanAddProfessional is false whenever usage is unavailable; otherwise it
// blocks as soon as the count reaches the limit.
func (s Snapshot) CanAddProfessional() bool {
	if !s.usageOK {
		return false
	}
	return s.data.Usage.ProfessionalsCount < s.data.Usage.ProfessionalsLimit
}

// LimitInfo returns nil when usage is unavailable.
func (s Snapshot) LimitInfo() *LimitInfo {
	if !s.usageOK {
		return nil
	}
	u := s.data.Usage
	return &LimitInfo{
		Current:   u.ProfessionalsCount,
		Limit:     u.ProfessionalsLimit,
		CanAdd:    u.ProfessionalsCount < u.ProfessionalsLimit,
		Remaining: u.ProfessionalsLimit - u.ProfessionalsCount,
	}
}

// Permissions returns the resolved permission map (every known key present)
// or nil before the first successful resolution.
func (s Snapshot) Permissions() plan.Permissions {
	if s.status != StatusReady {
		return nil
	}
	return s.data.Plan.Permissions
}

// PlanName returns the resolved plan name, or empty when not ready.
func (s Snapshot) PlanName() string {
	if s.status != StatusReady {
		return ""
	}
	return s.data.Plan.Name
}

type Config struct {
	// URL of the plan-info endpoint (scheme://host:port, no path).
	URL string
	// BusinessID scopes the resolver to one tenant session.
	BusinessID string
	// TTL is the freshness window; DefaultTTL when zero.
	TTL time.Duration
	// HTTPClient defaults to a client with a 5s timeout.
	HTTPClient *http.Client
}

// Resolver fetches plan data for a single business and caches the result for
// a freshness window. A failed fetch caches a degraded snapshot for the same
// window: failures are not retried automatically, by product decision, to
// avoid hammering a misconfigured backend. Invalidate is the manual refetch
// hook.
type Resolver struct {
	url        string
	businessID string
	ttl        time.Duration
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	snap      Snapshot
	expiresAt time.Time
}

func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Resolver{
		url:        cfg.URL + "/api/v1/plan/info",
		businessID: cfg.BusinessID,
		ttl:        cfg.TTL,
		client:     cfg.HTTPClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Current returns the cached snapshot without triggering a fetch. Before the
// first resolution completes it reports StatusLoading.
func (r *Resolver) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Resolve returns the cached snapshot while it is fresh; otherwise it fetches
// a new one. Only one fetch runs at a time; concurrent callers wait and share
// the result. The returned error reports a failed fetch, but the snapshot is
// always usable (degraded means every predicate denies).
func (r *Resolver) Resolve(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.status != StatusLoading && r.now().Before(r.expiresAt) {
		return r.snap, nil
	}

	data, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("plan info fetch failed; denying all access until refetch",
			"business_id", r.businessID, "err", err)
		r.snap = Snapshot{status: StatusDegraded}
		r.expiresAt = r.now().Add(r.ttl)
		return r.snap, err
	}

	data.Plan.Permissions = data.Plan.Permissions.Normalize()
	r.snap = Snapshot{status: StatusReady, data: data, usageOK: true}
	r.expiresAt = r.now().Add(r.ttl)
	return r.snap, nil
}

// Invalidate discards the cached snapshot so the next Resolve fetches again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = Snapshot{}
	r.expiresAt = time.Time{}
}

func (r *Resolver) fetch(ctx context.Context) (plan.Data, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return plan.Data{}, err
	}
	req.Header.Set("X-Business-Id", r.businessID)

	resp, err := r.client.Do(req)
	if err != nil {
		return plan.Data{}, fmt.Errorf("plan info fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return plan.Data{}, fmt.Errorf("plan info fetch: unexpected status %d", resp.StatusCode)
	}

	var data plan.Data
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&data); err != nil {
		return plan.Data{}, fmt.Errorf("plan info decode: %w", err)
	}
	return data, nil
}
