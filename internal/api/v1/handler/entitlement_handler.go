package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/entitlement"
	"studybuddy/internal/middleware"
	"studybuddy/internal/plan"

	"github.com/rs/zerolog"
)

// EntitlementHandler serves the read-only entitlement surface.
type EntitlementHandler struct {
	mgr     *entitlement.Manager
	catalog *plan.Catalog
	logger  zerolog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(mgr *entitlement.Manager, catalog *plan.Catalog, logger zerolog.Logger) *EntitlementHandler {
	return &EntitlementHandler{mgr: mgr, catalog: catalog, logger: logger}
}

// RegisterRoutes registers the entitlement endpoints.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("GET /entitlements", authMiddleware(http.HandlerFunc(h.Summary)))
	mux.Handle("GET /plans", authMiddleware(http.HandlerFunc(h.Plans)))
}

// Summary godoc
// @Summary Current entitlement summary
// @Description Returns the effective plan, subscription, usage counters and remaining quota per feature.
// @Tags entitlements
// @Produce json
// @Success 200 {object} dto.EntitlementSummaryResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "internal server error"
// @Router /entitlements [get]
func (h *EntitlementHandler) Summary(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	store, err := h.mgr.ForAccount(r.Context(), accountID)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to load entitlement store")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	summary, err := store.Summary(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to build entitlement summary")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, dto.FromSummary(summary))
}

// Plans godoc
// @Summary List plan tiers
// @Tags entitlements
// @Produce json
// @Success 200 {array} dto.PlanDTO
// @Router /plans [get]
func (h *EntitlementHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans := h.catalog.Plans()
	out := make([]dto.PlanDTO, 0, len(plans))
	for _, p := range plans {
		out = append(out, dto.FromPlan(p))
	}
	writeJSON(w, h.logger, out)
}

// timeNow is swapped out in tests.
var timeNow = time.Now

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
