package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/billing"
	"studybuddy/internal/middleware"
	"studybuddy/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// PurchaseHandler accepts client-forwarded purchase events and restoration
// requests.
type PurchaseHandler struct {
	verifier *billing.Verifier
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewPurchaseHandler creates a new PurchaseHandler.
func NewPurchaseHandler(verifier *billing.Verifier, validate *validator.Validate, logger zerolog.Logger) *PurchaseHandler {
	return &PurchaseHandler{verifier: verifier, validate: validate, logger: logger}
}

// RegisterRoutes registers the purchase endpoints.
func (h *PurchaseHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("POST /purchases/events", authMiddleware(http.HandlerFunc(h.SubmitEvent)))
	mux.Handle("POST /purchases/restore", authMiddleware(http.HandlerFunc(h.Restore)))
}

// SubmitEvent godoc
// @Summary Submit a purchase event for verification
// @Description Queues the event on the account's verification lane and waits for the outcome. Duplicate transaction ids resolve idempotently.
// @Tags purchases
// @Accept json
// @Produce json
// @Param request body dto.PurchaseEventRequest true "Purchase event"
// @Success 200 {object} dto.PurchaseOutcomeResponse
// @Failure 400 {string} string "invalid request body"
// @Failure 502 {object} dto.PurchaseOutcomeResponse "verification failed"
// @Router /purchases/events [post]
func (h *PurchaseHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.PurchaseEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.verifier.Submit(r.Context(), accountID, req.ToModel(timeNow()))
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out := dto.PurchaseOutcomeResponse{
		Outcome:      string(res.Outcome),
		Subscription: dto.FromSubscription(res.Subscription),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	switch res.Outcome {
	case billing.OutcomeFailed:
		// Retryable from the client's point of view.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		if err := json.NewEncoder(w).Encode(out); err != nil {
			h.logger.Error().Err(err).Msg("failed to encode response")
		}
	default:
		writeJSON(w, h.logger, out)
	}
}

// Restore godoc
// @Summary Restore previously purchased subscriptions
// @Description Verifies every reported purchase and commits the active one with the latest end date. An empty result is not an error.
// @Tags purchases
// @Accept json
// @Produce json
// @Param request body dto.RestoreRequest true "Purchases reported by the platform store"
// @Success 200 {object} dto.RestoreResponse
// @Failure 400 {string} string "invalid request body"
// @Failure 502 {string} string "account service unreachable"
// @Router /purchases/restore [post]
func (h *PurchaseHandler) Restore(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events := make([]model.PurchaseEvent, 0, len(req.Purchases))
	now := timeNow()
	for _, p := range req.Purchases {
		events = append(events, p.ToModel(now))
	}

	res, err := h.verifier.Restore(r.Context(), accountID, events)
	if err != nil {
		if errors.Is(err, billing.ErrVerificationFailed) {
			http.Error(w, "account service unreachable, try again later", http.StatusBadGateway)
			return
		}
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Restore failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	out := dto.RestoreResponse{
		Found:        res.Found,
		Subscription: dto.FromSubscription(res.Subscription),
	}
	if !res.Found {
		out.Message = "no active subscription found"
	}
	writeJSON(w, h.logger, out)
}
