package dto

import (
	"time"

	"studybuddy/internal/model"
)

// PurchaseEventRequest is a client-forwarded purchase event from the platform
// billing SDK.
type PurchaseEventRequest struct {
	Kind                  string `json:"kind" validate:"omitempty,oneof=update cancelled error"`
	Platform              string `json:"platform" validate:"required,oneof=ios android web"`
	ProductID             string `json:"product_id" validate:"required"`
	TransactionID         string `json:"transaction_id" validate:"required_unless=Kind cancelled"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	PurchaseToken         string `json:"purchase_token,omitempty"`
	ReceiptData           string `json:"receipt_data,omitempty"`
}

// ToModel maps the request to the engine's purchase event.
func (r PurchaseEventRequest) ToModel(now time.Time) model.PurchaseEvent {
	kind := model.EventKind(r.Kind)
	if kind == "" {
		kind = model.EventUpdate
	}
	return model.PurchaseEvent{
		Kind:                  kind,
		Platform:              model.Platform(r.Platform),
		ProductID:             r.ProductID,
		TransactionID:         r.TransactionID,
		OriginalTransactionID: r.OriginalTransactionID,
		PurchaseToken:         r.PurchaseToken,
		ReceiptData:           r.ReceiptData,
		OccurredAt:            now,
	}
}

// PurchaseOutcomeResponse reports what a submitted purchase event resolved to.
type PurchaseOutcomeResponse struct {
	Outcome      string           `json:"outcome"`
	Subscription *SubscriptionDTO `json:"subscription,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// RestoreRequest carries the purchases the platform billing store reports as
// owned by the device.
type RestoreRequest struct {
	Purchases []PurchaseEventRequest `json:"purchases" validate:"required,dive"`
}

// RestoreResponse reports the restoration outcome. Found=false with an empty
// subscription means no active subscription was found, which is not an error.
type RestoreResponse struct {
	Found        bool             `json:"found"`
	Subscription *SubscriptionDTO `json:"subscription,omitempty"`
	Message      string           `json:"message,omitempty"`
}
