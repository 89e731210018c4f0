package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Canonical (de)serialization for persisted and wire records. Dates travel as
// RFC 3339 strings; this file is the only place they are parsed or formatted.

type subscriptionRecord struct {
	PlanID                string `json:"planId"`
	Status                string `json:"status"`
	StartDate             string `json:"startDate"`
	EndDate               string `json:"endDate"`
	AutoRenew             bool   `json:"autoRenew"`
	Platform              string `json:"platform"`
	ProductID             string `json:"productId"`
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId,omitempty"`
	IsTrial               bool   `json:"isTrial"`
	Source                string `json:"source"`
	VerifiedAt            string `json:"verifiedAt,omitempty"`
}

type usageRecord struct {
	NotesCreated        int    `json:"notesCreated"`
	FlashcardsGenerated int    `json:"flashcardsGenerated"`
	AIQuestionsAsked    int    `json:"aiQuestionsAsked"`
	EssaysGenerated     int    `json:"essaysGenerated"`
	LastResetDate       string `json:"lastResetDate"`
}

// MarshalSubscription encodes a subscription to its persisted JSON form.
func MarshalSubscription(s *Subscription) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("marshal subscription: nil record")
	}
	rec := subscriptionRecord{
		PlanID:                string(s.PlanID),
		Status:                string(s.Status),
		StartDate:             s.StartDate.UTC().Format(time.RFC3339),
		EndDate:               s.EndDate.UTC().Format(time.RFC3339),
		AutoRenew:             s.AutoRenew,
		Platform:              string(s.Platform),
		ProductID:             s.ProductID,
		TransactionID:         s.TransactionID,
		OriginalTransactionID: s.OriginalTransactionID,
		IsTrial:               s.IsTrial,
		Source:                string(s.Source),
	}
	if !s.VerifiedAt.IsZero() {
		rec.VerifiedAt = s.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(rec)
}

// UnmarshalSubscription decodes the persisted JSON form, rejecting records
// that violate the EndDate >= StartDate invariant.
func UnmarshalSubscription(data []byte) (*Subscription, error) {
	var rec subscriptionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal subscription: %w", err)
	}
	start, err := time.Parse(time.RFC3339, rec.StartDate)
	if err != nil {
		return nil, fmt.Errorf("unmarshal subscription: bad startDate %q: %w", rec.StartDate, err)
	}
	end, err := time.Parse(time.RFC3339, rec.EndDate)
	if err != nil {
		return nil, fmt.Errorf("unmarshal subscription: bad endDate %q: %w", rec.EndDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("unmarshal subscription: endDate %s before startDate %s", rec.EndDate, rec.StartDate)
	}
	s := &Subscription{
		PlanID:                PlanID(rec.PlanID),
		Status:                SubscriptionStatus(rec.Status),
		StartDate:             start,
		EndDate:               end,
		AutoRenew:             rec.AutoRenew,
		Platform:              Platform(rec.Platform),
		ProductID:             rec.ProductID,
		TransactionID:         rec.TransactionID,
		OriginalTransactionID: rec.OriginalTransactionID,
		IsTrial:               rec.IsTrial,
		Source:                Source(rec.Source),
	}
	if rec.VerifiedAt != "" {
		at, err := time.Parse(time.RFC3339, rec.VerifiedAt)
		if err != nil {
			return nil, fmt.Errorf("unmarshal subscription: bad verifiedAt %q: %w", rec.VerifiedAt, err)
		}
		s.VerifiedAt = at
	}
	return s, nil
}

// MarshalUsage encodes usage stats to their persisted JSON form.
func MarshalUsage(u UsageStats) ([]byte, error) {
	rec := usageRecord{
		NotesCreated:        u.NotesCreated,
		FlashcardsGenerated: u.FlashcardsGenerated,
		AIQuestionsAsked:    u.AIQuestionsAsked,
		EssaysGenerated:     u.EssaysGenerated,
	}
	if !u.LastResetDate.IsZero() {
		rec.LastResetDate = u.LastResetDate.UTC().Format(time.RFC3339)
	}
	return json.Marshal(rec)
}

// UnmarshalUsage decodes the persisted JSON form, rejecting negative counters.
func UnmarshalUsage(data []byte) (UsageStats, error) {
	var rec usageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return UsageStats{}, fmt.Errorf("unmarshal usage: %w", err)
	}
	if rec.NotesCreated < 0 || rec.FlashcardsGenerated < 0 || rec.AIQuestionsAsked < 0 || rec.EssaysGenerated < 0 {
		return UsageStats{}, fmt.Errorf("unmarshal usage: negative counter")
	}
	u := UsageStats{
		NotesCreated:        rec.NotesCreated,
		FlashcardsGenerated: rec.FlashcardsGenerated,
		AIQuestionsAsked:    rec.AIQuestionsAsked,
		EssaysGenerated:     rec.EssaysGenerated,
	}
	if rec.LastResetDate != "" {
		at, err := time.Parse(time.RFC3339, rec.LastResetDate)
		if err != nil {
			return UsageStats{}, fmt.Errorf("unmarshal usage: bad lastResetDate %q: %w", rec.LastResetDate, err)
		}
		u.LastResetDate = at
	}
	return u, nil
}
