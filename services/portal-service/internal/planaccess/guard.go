package planaccess

import (
	"encoding/json"
	"net/http"

	"github.com/joaopvieira/agendly/libs/httpx"
	"github.com/joaopvieira/agendly/libs/plan"
)

// Denial messages are fixed and non-technical on purpose: a fetch failure and
// a genuine tier restriction look the same to the user, and backend detail
// never leaks.
const (
	UpgradeMessage  = "This feature is not available on your current plan. Upgrade to unlock it."
	CapacityMessage = "You have reached the professional limit for your plan. Upgrade to add more."
)

// State is the guard lifecycle: Loading, then exactly one of Granted/Denied
// per snapshot. There is no automatic edge back to Loading; a new cycle only
// starts when the resolver's cache expires or is invalidated.
type State int

const (
	StateLoading State = iota
	StateGranted
	StateDenied
)

// Decision is the outcome of evaluating a guard against a snapshot.
type Decision struct {
	State  State
	Reason string
	// Limit is populated by the capacity guard when usage is known, so the
	// denial can show current/limit counts.
	Limit *LimitInfo
}

// Guard decides whether a protected region is reachable under a plan
// snapshot. Two variants share the shape: a feature guard keyed by one
// feature, and a capacity guard over the professional headcount.
type Guard struct {
	feature  plan.Feature
	capacity bool
}

func FeatureGuard(f plan.Feature) Guard {
	return Guard{feature: f}
}

func CapacityGuard() Guard {
	return Guard{capacity: true}
}

func (g Guard) Evaluate(s Snapshot) Decision {
	if s.Status() == StatusLoading {
		return Decision{State: StateLoading}
	}

	if g.capacity {
		if s.CanAddProfessional() {
			return Decision{State: StateGranted}
		}
		return Decision{State: StateDenied, Reason: CapacityMessage, Limit: s.LimitInfo()}
	}

	if s.HasPermission(g.feature) {
		return Decision{State: StateGranted}
	}
	return Decision{State: StateDenied, Reason: UpgradeMessage}
}

// RequireFeature gates a route on a feature permission. Denials are 403 with
// the fixed upgrade message.
func RequireFeature(reg *Registry, f plan.Feature) httpx.Middleware {
	guard := FeatureGuard(f)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, _ := reg.For(businessIDFromRequest(r)).Resolve(r.Context())
			if d := guard.Evaluate(snap); d.State != StateGranted {
				writeDenial(w, http.StatusForbidden, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireProfessionalCapacity gates professional creation on plan headroom.
// Denials are 402 carrying current/limit counts. Non-POST requests pass
// through: reads are not metered.
func RequireProfessionalCapacity(reg *Registry) httpx.Middleware {
	guard := CapacityGuard()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			snap, _ := reg.For(businessIDFromRequest(r)).Resolve(r.Context())
			if d := guard.Evaluate(snap); d.State != StateGranted {
				writeDenial(w, http.StatusPaymentRequired, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func businessIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Business-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("business_id")
}

func writeDenial(w http.ResponseWriter, status int, d Decision) {
	body := map[string]any{"error": d.Reason}
	if d.Reason == "" {
		body["error"] = UpgradeMessage
	}
	if d.Limit != nil {
		body["current"] = d.Limit.Current
		body["limit"] = d.Limit.Limit
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
