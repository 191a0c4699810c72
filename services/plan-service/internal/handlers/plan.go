package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joaopvieira/agendly/libs/plan"
	"github.com/joaopvieira/agendly/services/plan-service/internal/plans"
	"github.com/joaopvieira/agendly/services/plan-service/internal/storage"
)

// Store is the persistence surface the handlers need.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetSubscription(ctx context.Context, businessID string) (storage.Subscription, error)
	CountProfessionals(ctx context.Context, businessID string) (int, error)
	UpsertSubscription(ctx context.Context, tx pgx.Tx, s storage.Subscription) error
	InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt storage.ProviderEvent) error
}

type Handler struct {
	store                  Store
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

func New(store Store, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		store:                  store,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

// PlanInfo serves the plan definition and current usage for a business in one
// response. Businesses without an active subscription get the free plan; the
// usage count is always live.
func (h *Handler) PlanInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessIDFromRequest(r)
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	tier := plans.TierFree
	sub, err := h.store.GetSubscription(r.Context(), businessID)
	switch {
	case err == nil:
		if sub.Active() {
			tier = sub.Tier
		}
	case storage.IsNotFound(err):
		// no subscription row: free tier
	default:
		h.logger.Error("subscription lookup failed, serving free tier", "business_id", businessID, "err", err)
	}

	count, err := h.store.CountProfessionals(r.Context(), businessID)
	if err != nil {
		h.logger.Error("professional count failed", "business_id", businessID, "err", err)
		http.Error(w, "failed to load usage", http.StatusInternalServerError)
		return
	}

	info := plans.ForTier(tier)
	writeJSON(w, http.StatusOK, plan.Data{
		Plan: info,
		Usage: plan.Usage{
			ProfessionalsCount: count,
			ProfessionalsLimit: info.MaxProfessionals,
		},
	})
}

func businessIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Business-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("business_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
