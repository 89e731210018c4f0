package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"studybuddy/internal/billing"
	"studybuddy/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Sink is where mapped purchase events go: the verifier.
type Sink interface {
	Submit(ctx context.Context, accountID string, ev model.PurchaseEvent) (billing.Result, error)
}

// WebhookHandler turns Stripe subscription webhooks into purchase events.
// The signature check is the only verification done here; the receipt itself
// is verified by the account service like every other platform's.
type WebhookHandler struct {
	sink   Sink
	secret string
	logger zerolog.Logger
}

// NewWebhookHandler wires the Stripe webhook endpoint.
func NewWebhookHandler(sink Sink, secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		sink:   sink,
		secret: secret,
		logger: logger.With().Str("service", "StripeWebhook").Logger(),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sig, h.secret)
	if err != nil {
		h.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}
	h.logger.Info().Str("event_type", string(event.Type)).Msg("Stripe webhook received")

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted", "invoice.payment_failed":
	default:
		h.logger.Debug().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
		w.WriteHeader(http.StatusOK)
		return
	}

	if event.Type == "invoice.payment_failed" {
		h.handleInvoiceFailed(w, r, event)
		return
	}

	var ss stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
		h.logger.Error().Err(err).Msg("Invalid subscription payload")
		http.Error(w, "invalid subscription data", http.StatusBadRequest)
		return
	}
	accountID := ss.Metadata["user_id"]
	if accountID == "" {
		// Nothing to route to; the next reconciliation pull repairs state.
		h.logger.Warn().Str("subscription_id", ss.ID).Msg("Missing user_id metadata on Stripe subscription")
		w.WriteHeader(http.StatusOK)
		return
	}
	if len(ss.Items.Data) == 0 || ss.Items.Data[0].Price == nil || ss.Items.Data[0].Price.ID == "" {
		h.logger.Error().Str("subscription_id", ss.ID).Msg("Could not determine price ID from subscription")
		http.Error(w, "could not determine price ID", http.StatusBadRequest)
		return
	}

	// Deletion also maps to an update: re-verification makes the account
	// service return the canonical ended record, which is the self-consistent
	// evidence reconciliation demands for a downgrade.
	ev := model.PurchaseEvent{
		Kind:          model.EventUpdate,
		Platform:      model.PlatformWeb,
		ProductID:     ss.Items.Data[0].Price.ID,
		TransactionID: ss.ID,
		OccurredAt:    time.Unix(event.Created, 0),
	}
	h.submit(w, r, accountID, ev)
}

// handleInvoiceFailed re-verifies the subscription an unpaid invoice belongs
// to, so the entitlement reflects whatever the account service decides.
func (h *WebhookHandler) handleInvoiceFailed(w http.ResponseWriter, r *http.Request, event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error().Err(err).Msg("Invalid invoice.payment_failed payload")
		http.Error(w, "invalid invoice data", http.StatusBadRequest)
		return
	}
	accountID := invoice.Metadata["user_id"]
	if accountID == "" {
		h.logger.Warn().Str("invoice_id", invoice.ID).Msg("Missing user_id metadata on invoice")
		w.WriteHeader(http.StatusOK)
		return
	}
	var subID, priceID string
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line.Subscription != nil && line.Subscription.ID != "" {
				subID = line.Subscription.ID
				if line.Pricing != nil && line.Pricing.PriceDetails != nil {
					priceID = line.Pricing.PriceDetails.Price
				}
				break
			}
		}
	}
	if subID == "" {
		// One-time invoice; no subscription to refresh.
		h.logger.Info().Str("invoice_id", invoice.ID).Msg("Invoice has no subscription, skipping")
		w.WriteHeader(http.StatusOK)
		return
	}
	ev := model.PurchaseEvent{
		Kind:          model.EventUpdate,
		Platform:      model.PlatformWeb,
		ProductID:     priceID,
		TransactionID: subID,
		OccurredAt:    time.Unix(event.Created, 0),
	}
	h.submit(w, r, accountID, ev)
}

func (h *WebhookHandler) submit(w http.ResponseWriter, r *http.Request, accountID string, ev model.PurchaseEvent) {
	res, err := h.sink.Submit(r.Context(), accountID, ev)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to submit purchase event")
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}
	if res.Outcome == billing.OutcomeFailed && !errors.Is(res.Err, billing.ErrPurchaseCancelled) {
		// Non-2xx makes Stripe redeliver, which is the retry we want for a
		// transient verification failure.
		h.logger.Warn().Err(res.Err).Str("account_id", accountID).Msg("Verification failed for Stripe event")
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
