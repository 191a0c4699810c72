package planaccess

import (
	"fmt"
	"testing"
	"time"
)

func TestRegistryReusesResolverPerBusiness(t *testing.T) {
	reg := NewRegistry(Config{URL: "http://plan.internal"}, testLogger())

	a := reg.For("biz-a")
	if reg.For("biz-a") != a {
		t.Fatal("expected the same resolver on repeated lookups")
	}
	if reg.For("biz-b") == a {
		t.Fatal("expected distinct resolvers per business")
	}
}

func TestRegistryDropForgetsResolver(t *testing.T) {
	reg := NewRegistry(Config{URL: "http://plan.internal"}, testLogger())

	a := reg.For("biz-a")
	reg.Drop("biz-a")
	if reg.For("biz-a") == a {
		t.Fatal("expected a fresh resolver after Drop")
	}
}

func TestRegistrySweepsIdleResolvers(t *testing.T) {
	reg := NewRegistry(Config{URL: "http://plan.internal", TTL: time.Minute}, testLogger())

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := base
	reg.now = func() time.Time { return now }

	reg.For("stale")
	reg.For("fresh")

	// Push the map past the sweep threshold after the first two entries have
	// aged differently: "stale" beyond maxIdle, "fresh" touched recently.
	now = base.Add(4 * time.Minute)
	reg.For("fresh")
	for i := 0; i <= maxResolvers; i++ {
		reg.For(fmt.Sprintf("biz-%d", i))
	}

	reg.mu.Lock()
	_, staleKept := reg.resolvers["stale"]
	_, freshKept := reg.resolvers["fresh"]
	size := len(reg.resolvers)
	reg.mu.Unlock()

	if staleKept {
		t.Fatal("expected the idle resolver to be swept")
	}
	if !freshKept {
		t.Fatal("expected the recently used resolver to survive the sweep")
	}
	if size > maxResolvers+2 {
		t.Fatalf("registry grew past the sweep bound: %d entries", size)
	}
}
