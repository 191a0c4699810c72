package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joaopvieira/agendly/services/portal-service/internal/appointments"
	"github.com/joaopvieira/agendly/services/portal-service/internal/planaccess"
)

type PortalHandler struct {
	registry *planaccess.Registry
	cache    *appointments.Cache
	logger   *slog.Logger
}

func NewPortalHandler(registry *planaccess.Registry, cache *appointments.Cache, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{registry: registry, cache: cache, logger: logger}
}

// Appointments serves the cached appointment list. The feature guard wraps
// this route; by the time it runs, access is already granted.
func (h *PortalHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessID(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	body, err := h.cache.List(r.Context(), businessID)
	if err != nil {
		h.logger.Error("appointment list failed", "business_id", businessID, "err", err)
		http.Error(w, "failed to load appointments", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type planSummary struct {
	Status      string          `json:"status"`
	Plan        string          `json:"plan,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	Limit       any             `json:"professional_limit,omitempty"`
}

// PlanSummary exposes the resolved plan state so the frontend can gate its
// own rendering with the same data the server gates routes with.
func (h *PortalHandler) PlanSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessID(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	snap, _ := h.registry.For(businessID).Resolve(r.Context())

	out := planSummary{}
	switch snap.Status() {
	case planaccess.StatusReady:
		out.Status = "ready"
		out.Plan = snap.PlanName()
		perms := map[string]bool{}
		for k, v := range snap.Permissions() {
			perms[string(k)] = v
		}
		out.Permissions = perms
		if li := snap.LimitInfo(); li != nil {
			out.Limit = li
		}
	case planaccess.StatusDegraded:
		out.Status = "unavailable"
	default:
		out.Status = "loading"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// RefreshPlan invalidates the cached plan for the business, forcing the next
// resolution to refetch. This is the manual refetch hook after checkout.
func (h *PortalHandler) RefreshPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessID(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	h.registry.Invalidate(businessID)
	w.WriteHeader(http.StatusNoContent)
}

func businessID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Business-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("business_id"))
}
