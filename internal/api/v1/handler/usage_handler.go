package handler

import (
	"encoding/json"
	"net/http"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/entitlement"
	"studybuddy/internal/middleware"
	"studybuddy/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// UsageHandler serves quota checks and usage tracking.
type UsageHandler struct {
	mgr      *entitlement.Manager
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(mgr *entitlement.Manager, validate *validator.Validate, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{mgr: mgr, validate: validate, logger: logger}
}

// RegisterRoutes registers the usage endpoints.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("POST /usage/check", authMiddleware(http.HandlerFunc(h.Check)))
	mux.Handle("POST /usage/track", authMiddleware(http.HandlerFunc(h.Track)))
	mux.Handle("POST /usage/consume", authMiddleware(http.HandlerFunc(h.Consume)))
}

func (h *UsageHandler) parse(w http.ResponseWriter, r *http.Request) (string, dto.UsageCheckRequest, bool) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", dto.UsageCheckRequest{}, false
	}
	var req dto.UsageCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return "", dto.UsageCheckRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", dto.UsageCheckRequest{}, false
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	return accountID, req, true
}

// Check godoc
// @Summary Check whether a feature use fits the quota
// @Tags usage
// @Accept json
// @Produce json
// @Param request body dto.UsageCheckRequest true "Feature and quantity"
// @Success 200 {object} dto.UsageCheckResponse
// @Failure 400 {string} string "invalid request body"
// @Router /usage/check [post]
func (h *UsageHandler) Check(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := h.parse(w, r)
	if !ok {
		return
	}
	store, err := h.mgr.ForAccount(r.Context(), accountID)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to load entitlement store")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	feature := model.Feature(req.Feature)
	allowed, err := store.CanPerform(r.Context(), feature, req.Quantity)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Quota check failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	remaining, err := store.Remaining(r.Context(), feature)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, dto.UsageCheckResponse{Allowed: allowed, Remaining: remaining})
}

// Track godoc
// @Summary Record feature usage without enforcing the quota
// @Description Increments the counter unconditionally. Pair with /usage/check, or use /usage/consume for check-and-increment in one call.
// @Tags usage
// @Accept json
// @Param request body dto.UsageCheckRequest true "Feature and quantity"
// @Success 204 {string} string "no content"
// @Failure 400 {string} string "invalid request body"
// @Router /usage/track [post]
func (h *UsageHandler) Track(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := h.parse(w, r)
	if !ok {
		return
	}
	store, err := h.mgr.ForAccount(r.Context(), accountID)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to load entitlement store")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := store.TrackUsage(r.Context(), model.Feature(req.Feature), req.Quantity); err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Str("feature", req.Feature).Msg("Failed to track usage")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Consume godoc
// @Summary Check quota and record usage in one call
// @Tags usage
// @Accept json
// @Produce json
// @Param request body dto.UsageCheckRequest true "Feature and quantity"
// @Success 200 {object} dto.UsageCheckResponse
// @Failure 403 {object} dto.UsageCheckResponse "quota exhausted"
// @Router /usage/consume [post]
func (h *UsageHandler) Consume(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := h.parse(w, r)
	if !ok {
		return
	}
	store, err := h.mgr.ForAccount(r.Context(), accountID)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to load entitlement store")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	feature := model.Feature(req.Feature)
	allowed, err := store.CanPerform(r.Context(), feature, req.Quantity)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		remaining, _ := store.Remaining(r.Context(), feature)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		if err := json.NewEncoder(w).Encode(dto.UsageCheckResponse{Allowed: false, Remaining: remaining}); err != nil {
			h.logger.Error().Err(err).Msg("failed to encode response")
		}
		return
	}
	if err := store.TrackUsage(r.Context(), feature, req.Quantity); err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Str("feature", req.Feature).Msg("Failed to track usage")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	remaining, err := store.Remaining(r.Context(), feature)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, dto.UsageCheckResponse{Allowed: true, Remaining: remaining})
}
