package handler

import (
	"net/http"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/entitlement"
	"studybuddy/internal/middleware"
	"studybuddy/internal/syncer"

	"github.com/rs/zerolog"
)

// AccountHandler serves subscription lifecycle and account session endpoints.
type AccountHandler struct {
	mgr    *entitlement.Manager
	sync   *syncer.Syncer
	logger zerolog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(mgr *entitlement.Manager, sync *syncer.Syncer, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{mgr: mgr, sync: sync, logger: logger}
}

// RegisterRoutes registers the account endpoints.
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("POST /subscription/cancel", authMiddleware(http.HandlerFunc(h.CancelSubscription)))
	mux.Handle("POST /account/signout", authMiddleware(http.HandlerFunc(h.SignOut)))
	mux.Handle("POST /sync", authMiddleware(http.HandlerFunc(h.Sync)))
}

// CancelSubscription godoc
// @Summary Cancel the current subscription
// @Description Marks the subscription cancelled and turns auto-renew off. Paid access continues until the end date.
// @Tags account
// @Produce json
// @Success 200 {object} dto.EntitlementSummaryResponse
// @Failure 401 {string} string "unauthorized"
// @Router /subscription/cancel [post]
func (h *AccountHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
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
	if err := store.Cancel(r.Context()); err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to cancel subscription")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	summary, err := store.Summary(r.Context())
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, dto.FromSummary(summary))
}

// SignOut godoc
// @Summary Sign the account out of this device
// @Description Clears cached entitlement state and rotates the generation token so in-flight verifications cannot commit afterwards.
// @Tags account
// @Success 204 {string} string "no content"
// @Failure 401 {string} string "unauthorized"
// @Router /account/signout [post]
func (h *AccountHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.mgr.SignOut(r.Context(), accountID); err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to sign out")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync godoc
// @Summary Reconcile against the account service now
// @Description Pulls remote state, merges it with the local cache and returns the refreshed entitlement summary.
// @Tags account
// @Produce json
// @Success 200 {object} dto.EntitlementSummaryResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 502 {string} string "account service unreachable"
// @Router /sync [post]
func (h *AccountHandler) Sync(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.sync.SyncAccount(r.Context(), accountID); err != nil {
		h.logger.Warn().Err(err).Str("account_id", accountID).Msg("On-demand sync failed")
		http.Error(w, "account service unreachable, try again later", http.StatusBadGateway)
		return
	}
	store, err := h.mgr.ForAccount(r.Context(), accountID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	summary, err := store.Summary(r.Context())
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, dto.FromSummary(summary))
}
