package planaccess

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/joaopvieira/agendly/libs/plan"
)

func readySnapshot(data plan.Data) Snapshot {
	data.Plan.Permissions = data.Plan.Permissions.Normalize()
	return Snapshot{status: StatusReady, data: data, usageOK: true}
}

func TestGuardLoadingState(t *testing.T) {
	snap := Snapshot{}
	if d := FeatureGuard(plan.FeatureReports).Evaluate(snap); d.State != StateLoading {
		t.Fatalf("feature guard: expected loading, got %v", d.State)
	}
	if d := CapacityGuard().Evaluate(snap); d.State != StateLoading {
		t.Fatalf("capacity guard: expected loading, got %v", d.State)
	}
}

func TestFeatureGuardGrantAndDeny(t *testing.T) {
	snap := readySnapshot(plan.Data{
		Plan: plan.Info{Permissions: plan.Permissions{plan.FeatureReports: true}},
	})

	if d := FeatureGuard(plan.FeatureReports).Evaluate(snap); d.State != StateGranted {
		t.Fatalf("expected granted, got %v (%s)", d.State, d.Reason)
	}
	d := FeatureGuard(plan.FeatureInventory).Evaluate(snap)
	if d.State != StateDenied {
		t.Fatalf("expected denied, got %v", d.State)
	}
	if d.Reason != UpgradeMessage {
		t.Fatalf("expected fixed upgrade message, got %q", d.Reason)
	}
}

func TestFeatureGuardDeniesWhenDegraded(t *testing.T) {
	snap := Snapshot{status: StatusDegraded}
	d := FeatureGuard(plan.FeatureDashboard).Evaluate(snap)
	if d.State != StateDenied {
		t.Fatalf("expected denied on degraded snapshot, got %v", d.State)
	}
	if d.Reason != UpgradeMessage {
		t.Fatalf("degraded denial must look like a plan denial, got %q", d.Reason)
	}
}

func TestCapacityGuardDenialCarriesCounts(t *testing.T) {
	snap := readySnapshot(plan.Data{
		Usage: plan.Usage{ProfessionalsCount: 3, ProfessionalsLimit: 3},
	})
	d := CapacityGuard().Evaluate(snap)
	if d.State != StateDenied {
		t.Fatalf("expected denied at limit, got %v", d.State)
	}
	if d.Reason != CapacityMessage {
		t.Fatalf("expected fixed capacity message, got %q", d.Reason)
	}
	if d.Limit == nil || d.Limit.Current != 3 || d.Limit.Limit != 3 {
		t.Fatalf("expected counts on denial, got %+v", d.Limit)
	}
}

func TestRequireFeatureMiddleware(t *testing.T) {
	var requests atomic.Int64
	srv := planServer(t, &requests, proData(1, 10))
	defer srv.Close()

	reg := NewRegistry(Config{URL: srv.URL}, testLogger())
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	// Granted feature passes through.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Business-Id", "biz-1")
	RequireFeature(reg, plan.FeatureAppointments)(next).ServeHTTP(rec, req)
	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}

	// Denied feature is a 403 with the upgrade message.
	reached = false
	rec = httptest.NewRecorder()
	RequireFeature(reg, plan.FeatureInventory)(next).ServeHTTP(rec, req)
	if reached {
		t.Fatal("handler ran behind a denied guard")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid denial body: %v", err)
	}
	if body["error"] != UpgradeMessage {
		t.Fatalf("unexpected denial message: %v", body["error"])
	}
}

func TestRequireProfessionalCapacityMiddleware(t *testing.T) {
	var requests atomic.Int64
	srv := planServer(t, &requests, proData(3, 3))
	defer srv.Close()

	reg := NewRegistry(Config{URL: srv.URL}, testLogger())
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusCreated)
	})
	mw := RequireProfessionalCapacity(reg)(next)

	// Reads are not metered.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/professionals", nil)
	req.Header.Set("X-Business-Id", "biz-1")
	mw.ServeHTTP(rec, req)
	if !reached {
		t.Fatal("GET should pass through the capacity guard")
	}

	// Creation at the limit is a 402 with counts.
	reached = false
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/professionals", nil)
	req.Header.Set("X-Business-Id", "biz-1")
	mw.ServeHTTP(rec, req)
	if reached {
		t.Fatal("handler ran at capacity limit")
	}
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid denial body: %v", err)
	}
	if body["error"] != CapacityMessage {
		t.Fatalf("unexpected denial message: %v", body["error"])
	}
	if body["current"] != float64(3) || body["limit"] != float64(3) {
		t.Fatalf("expected counts in denial, got %v", body)
	}
}
