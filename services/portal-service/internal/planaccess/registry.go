package planaccess

import (
	"log/slog"
	"sync"
	"time"
)

// maxResolvers bounds how many tenants the registry tracks before it starts
// sweeping idle entries. Business IDs come from request headers, so the map
// must not grow without limit on unknown IDs.
const maxResolvers = 10000

// Registry hands out one resolver per business. Resolvers are created on
// first use and swept once idle, so plan state is injected where it is
// needed instead of living as ambient globals.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	resolvers map[string]*tenantResolver
	maxIdle   time.Duration
	now       func() time.Time
}

type tenantResolver struct {
	resolver *Resolver
	lastUsed time.Time
}

// NewRegistry builds a registry from a template config; BusinessID on the
// template is ignored and filled per tenant.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		resolvers: map[string]*tenantResolver{},
		maxIdle:   3 * ttl,
		now:       time.Now,
	}
}

// For returns the resolver scoped to businessID, creating it if needed.
func (reg *Registry) For(businessID string) *Resolver {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.now()
	t := reg.resolvers[businessID]
	if t == nil {
		cfg := reg.cfg
		cfg.BusinessID = businessID
		t = &tenantResolver{resolver: NewResolver(cfg, reg.logger)}
		reg.resolvers[businessID] = t
	}
	t.lastUsed = now

	// Opportunistic cleanup; the map only grows with distinct business IDs.
	if len(reg.resolvers) > maxResolvers {
		for id, tr := range reg.resolvers {
			if now.Sub(tr.lastUsed) > reg.maxIdle {
				delete(reg.resolvers, id)
			}
		}
	}

	return t.resolver
}

// Invalidate forces the next resolution for businessID to refetch. A no-op
// for businesses without a resolver yet.
func (reg *Registry) Invalidate(businessID string) {
	reg.mu.Lock()
	t := reg.resolvers[businessID]
	reg.mu.Unlock()
	if t != nil {
		t.resolver.Invalidate()
	}
}

// Drop tears down the resolver for businessID (tenant session ended).
func (reg *Registry) Drop(businessID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.resolvers, businessID)
}
