// Package appointments gives the portal a read-through cache over the
// upstream booking API. Live updates invalidate entries; the next reader
// repopulates. Whoever is subscribed when the invalidation lands sees fresh
// data on their next read.
package appointments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Store is the key-value cache the portal depends on. Only the contract
// matters here: Del makes the next Get miss, and Del on a missing key is a
// no-op.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Fetcher loads the appointment list from the upstream booking API.
type Fetcher interface {
	Fetch(ctx context.Context, businessID string) ([]byte, error)
}

type Cache struct {
	store  Store
	fetch  Fetcher
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCache(store Store, fetch Fetcher, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		store:  store,
		fetch:  fetch,
		ttl:    ttl,
		prefix: "appointments",
		logger: logger,
	}
}

// List returns the cached appointment list for businessID, fetching upstream
// on a miss. Store errors fall through to the upstream fetch: a broken cache
// degrades to slower reads, not failures.
func (c *Cache) List(ctx context.Context, businessID string) ([]byte, error) {
	key := c.key(businessID)

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("appointment cache read failed", "business_id", businessID, "err", err)
	} else if ok {
		return []byte(cached), nil
	}

	body, err := c.fetch.Fetch(ctx, businessID)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, key, string(body), c.ttl); err != nil {
		c.logger.Warn("appointment cache write failed", "business_id", businessID, "err", err)
	}
	return body, nil
}

// Invalidate drops the cached list for businessID. Idempotent: invalidating
// twice has the same effect as once.
func (c *Cache) Invalidate(ctx context.Context, businessID string) error {
	return c.store.Del(ctx, c.key(businessID))
}

func (c *Cache) key(businessID string) string {
	return c.prefix + ":" + businessID
}

// HTTPFetcher loads appointment lists over the booking API.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPFetcher{baseURL: baseURL, client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, businessID string) ([]byte, error) {
	url := f.baseURL + "/api/v1/appointments?business_id=" + businessID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("appointment fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("appointment fetch: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
