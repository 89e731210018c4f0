package playstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"studybuddy/internal/billing"
	"studybuddy/internal/model"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Sink is where mapped purchase events go: the verifier.
type Sink interface {
	Submit(ctx context.Context, accountID string, ev model.PurchaseEvent) (billing.Result, error)
}

// AccountResolver finds the account owning a purchase token lineage.
type AccountResolver interface {
	FindAccountByTransaction(ctx context.Context, key string) (string, error)
}

// developerNotification is the Play real-time developer notification payload.
type developerNotification struct {
	Version                  string `json:"version"`
	PackageName              string `json:"packageName"`
	EventTimeMillis          string `json:"eventTimeMillis"`
	SubscriptionNotification *struct {
		Version          string `json:"version"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification"`
}

// Receiver pulls Play RTDN messages from a Pub/Sub subscription and feeds
// them to the verifier. Accounts are resolved through the purchase token
// lineage; tokens never seen before are dropped, because the first
// verification for an account always arrives through the client API.
type Receiver struct {
	client       *pubsub.Client
	subscription string
	sink         Sink
	resolver     AccountResolver
	logger       zerolog.Logger
}

// NewReceiver creates the Pub/Sub client for the given project.
func NewReceiver(ctx context.Context, projectID, subscription string, sink Sink, resolver AccountResolver, logger zerolog.Logger, opts ...option.ClientOption) (*Receiver, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &Receiver{
		client:       client,
		subscription: subscription,
		sink:         sink,
		resolver:     resolver,
		logger:       logger.With().Str("service", "PlayRTDNReceiver").Logger(),
	}, nil
}

// Run blocks receiving notifications until ctx is done.
func (r *Receiver) Run(ctx context.Context) error {
	r.logger.Info().Str("subscription", r.subscription).Msg("Starting Play RTDN receiver")
	sub := r.client.Subscription(r.subscription)
	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if r.handle(ctx, m.Data) {
			m.Ack()
			return
		}
		m.Nack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive Play notifications: %w", err)
	}
	r.logger.Info().Msg("Play RTDN receiver stopped")
	return nil
}

// Close releases the Pub/Sub client.
func (r *Receiver) Close() error {
	return r.client.Close()
}

// handle maps one notification; the return value is whether to ack.
func (r *Receiver) handle(ctx context.Context, data []byte) bool {
	var n developerNotification
	if err := json.Unmarshal(data, &n); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping undecodable Play notification")
		return true
	}
	if n.SubscriptionNotification == nil {
		// Test or one-time-product notification; nothing to do here.
		return true
	}
	sn := n.SubscriptionNotification

	accountID, err := r.resolver.FindAccountByTransaction(ctx, sn.PurchaseToken)
	if err != nil {
		r.logger.Warn().Str("subscription_id", sn.SubscriptionID).Int("notification_type", sn.NotificationType).Msg("Dropping Play notification for unknown purchase token")
		return true
	}

	occurred := time.Now()
	if ms, err := strconv.ParseInt(n.EventTimeMillis, 10, 64); err == nil {
		occurred = time.UnixMilli(ms)
	}
	// All subscription notification types re-verify; the account service
	// decides what the renewal, cancellation or expiry means.
	ev := model.PurchaseEvent{
		Kind:          model.EventUpdate,
		Platform:      model.PlatformAndroid,
		ProductID:     sn.SubscriptionID,
		TransactionID: sn.PurchaseToken,
		PurchaseToken: sn.PurchaseToken,
		OccurredAt:    occurred,
	}
	res, err := r.sink.Submit(ctx, accountID, ev)
	if err != nil {
		r.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to submit Play purchase event")
		return false
	}
	if res.Outcome == billing.OutcomeFailed {
		// Nack so Pub/Sub redelivers once the account service is back.
		r.logger.Warn().Err(res.Err).Str("account_id", accountID).Msg("Verification failed for Play notification")
		return false
	}
	return true
}
