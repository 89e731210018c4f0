package model

import "time"

// EventKind classifies a purchase notification from a billing store.
type EventKind string

const (
	EventUpdate    EventKind = "update"
	EventCancelled EventKind = "cancelled"
	EventError     EventKind = "error"
)

// PurchaseEvent is the platform-neutral purchase notification fed to the
// verifier. Every billing source (client API, Stripe webhook, Play RTDN,
// App Store notification) maps its native payload into this shape.
type PurchaseEvent struct {
	Kind                  EventKind `json:"kind"`
	Platform              Platform  `json:"platform"`
	ProductID             string    `json:"product_id"`
	TransactionID         string    `json:"transaction_id"`
	OriginalTransactionID string    `json:"original_transaction_id,omitempty"`
	PurchaseToken         string    `json:"purchase_token,omitempty"`
	ReceiptData           string    `json:"receipt_data,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}
