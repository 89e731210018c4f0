package appstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"studybuddy/internal/billing"
	"studybuddy/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Sink is where mapped purchase events go: the verifier.
type Sink interface {
	Submit(ctx context.Context, accountID string, ev model.PurchaseEvent) (billing.Result, error)
}

// AccountResolver finds the account owning a transaction lineage, for
// notifications that carry no appAccountToken.
type AccountResolver interface {
	FindAccountByTransaction(ctx context.Context, key string) (string, error)
}

// NotificationHandler accepts App Store Server Notifications V2. The JWS
// payloads are parsed without signature verification; cryptographic receipt
// checks are the account service's job. This handler only extracts enough to
// route the event there.
type NotificationHandler struct {
	sink     Sink
	resolver AccountResolver
	logger   zerolog.Logger
}

// NewNotificationHandler wires the App Store notification endpoint.
func NewNotificationHandler(sink Sink, resolver AccountResolver, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		sink:     sink,
		resolver: resolver,
		logger:   logger.With().Str("service", "AppStoreNotifications").Logger(),
	}
}

type notificationBody struct {
	SignedPayload string `json:"signedPayload"`
}

type notificationPayload struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	Data             struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
	jwt.RegisteredClaims
}

type transactionInfo struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	AppAccountToken       string `json:"appAccountToken"`
	ExpiresDateMillis     int64  `json:"expiresDate"`
	jwt.RegisteredClaims
}

func parseJWS[T jwt.Claims](token string, claims T) error {
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("parse JWS payload: %w", err)
	}
	return nil
}

func (h *NotificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body notificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SignedPayload == "" {
		h.logger.Error().Err(err).Msg("Invalid App Store notification body")
		http.Error(w, "invalid notification body", http.StatusBadRequest)
		return
	}
	var payload notificationPayload
	if err := parseJWS(body.SignedPayload, &payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse signed payload")
		http.Error(w, "invalid signed payload", http.StatusBadRequest)
		return
	}
	if payload.Data.SignedTransactionInfo == "" {
		// TEST and some summary notifications carry no transaction.
		h.logger.Debug().Str("notification_type", payload.NotificationType).Msg("Notification without transaction info")
		w.WriteHeader(http.StatusOK)
		return
	}
	var txn transactionInfo
	if err := parseJWS(payload.Data.SignedTransactionInfo, &txn); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse signed transaction info")
		http.Error(w, "invalid transaction info", http.StatusBadRequest)
		return
	}

	accountID := txn.AppAccountToken
	if accountID == "" {
		resolved, err := h.resolver.FindAccountByTransaction(r.Context(), txn.OriginalTransactionID)
		if err != nil {
			// First verification for an account always arrives through the
			// client API, so an unknown lineage here is just early delivery.
			h.logger.Warn().Str("original_transaction_id", txn.OriginalTransactionID).Str("notification_type", payload.NotificationType).Msg("Dropping notification for unknown transaction lineage")
			w.WriteHeader(http.StatusOK)
			return
		}
		accountID = resolved
	}

	// Every notification type re-verifies: the account service's answer is
	// canonical whether the change was a renewal, an expiry or a revocation.
	ev := model.PurchaseEvent{
		Kind:                  model.EventUpdate,
		Platform:              model.PlatformIOS,
		ProductID:             txn.ProductID,
		TransactionID:         txn.TransactionID,
		OriginalTransactionID: txn.OriginalTransactionID,
		ReceiptData:           body.SignedPayload,
		OccurredAt:            time.Now(),
	}
	res, err := h.sink.Submit(r.Context(), accountID, ev)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to submit purchase event")
		http.Error(w, "failed to process notification", http.StatusInternalServerError)
		return
	}
	if res.Outcome == billing.OutcomeFailed {
		h.logger.Warn().Err(res.Err).Str("account_id", accountID).Str("notification_type", payload.NotificationType).Msg("Verification failed for App Store notification")
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
