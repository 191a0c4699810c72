package appointments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]string
	failGet bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", false, errors.New("store down")
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	body  []byte
	err   error
}

func (f *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.body, f.err
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListReadsThroughOnce(t *testing.T) {
	store := newMemoryStore()
	fetcher := &countingFetcher{body: []byte(`[{"id":"apt-1"}]`)}
	cache := NewCache(store, fetcher, time.Minute, testLogger())

	for i := 0; i < 3; i++ {
		body, err := cache.List(context.Background(), "biz-1")
		if err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		if string(body) != `[{"id":"apt-1"}]` {
			t.Fatalf("list %d: unexpected body %s", i, body)
		}
	}
	if fetcher.count() != 1 {
		t.Fatalf("expected 1 upstream fetch, got %d", fetcher.count())
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	store := newMemoryStore()
	fetcher := &countingFetcher{body: []byte(`[]`)}
	cache := NewCache(store, fetcher, time.Minute, testLogger())

	if _, err := cache.List(context.Background(), "biz-1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := cache.Invalidate(context.Background(), "biz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	// Invalidating again is a no-op, not an error.
	if err := cache.Invalidate(context.Background(), "biz-1"); err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
	if _, err := cache.List(context.Background(), "biz-1"); err != nil {
		t.Fatalf("list after invalidate: %v", err)
	}
	if fetcher.count() != 2 {
		t.Fatalf("expected refetch after invalidate, got %d fetches", fetcher.count())
	}
}

func TestBrokenStoreFallsThroughToFetch(t *testing.T) {
	store := newMemoryStore()
	store.failGet = true
	fetcher := &countingFetcher{body: []byte(`[]`)}
	cache := NewCache(store, fetcher, time.Minute, testLogger())

	body, err := cache.List(context.Background(), "biz-1")
	if err != nil {
		t.Fatalf("list with broken store: %v", err)
	}
	if string(body) != `[]` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestKeysAreTenantScoped(t *testing.T) {
	store := newMemoryStore()
	fetcher := &countingFetcher{body: []byte(`[]`)}
	cache := NewCache(store, fetcher, time.Minute, testLogger())

	if _, err := cache.List(context.Background(), "biz-1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := cache.List(context.Background(), "biz-2"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if fetcher.count() != 2 {
		t.Fatalf("expected per-tenant fetches, got %d", fetcher.count())
	}
	if err := cache.Invalidate(context.Background(), "biz-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := store.entries["appointments:biz-2"]; !ok {
		t.Fatal("invalidating one tenant must not evict another")
	}
}
