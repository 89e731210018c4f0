package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionCodecRoundTrip(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	in := &Subscription{
		PlanID:                PlanProYearly,
		Status:                StatusCancelled,
		StartDate:             start,
		EndDate:               start.AddDate(1, 0, 0),
		AutoRenew:             false,
		Platform:              PlatformIOS,
		ProductID:             "com.studybuddy.pro.yearly",
		TransactionID:         "txn-7",
		OriginalTransactionID: "txn-1",
		IsTrial:               true,
		Source:                SourceBackend,
		VerifiedAt:            start.Add(time.Minute),
	}

	data, err := MarshalSubscription(in)
	require.NoError(t, err)

	out, err := UnmarshalSubscription(data)
	require.NoError(t, err)
	assert.Equal(t, in.PlanID, out.PlanID)
	assert.Equal(t, in.Status, out.Status)
	assert.True(t, in.StartDate.Equal(out.StartDate))
	assert.True(t, in.EndDate.Equal(out.EndDate))
	assert.Equal(t, in.OriginalTransactionID, out.OriginalTransactionID)
	assert.True(t, in.VerifiedAt.Equal(out.VerifiedAt))
	assert.True(t, out.IsTrial)
}

func TestUnmarshalSubscriptionRejectsInvertedDates(t *testing.T) {
	_, err := UnmarshalSubscription([]byte(`{
		"planId": "pro_monthly",
		"status": "active",
		"startDate": "2024-06-01T00:00:00Z",
		"endDate": "2024-05-01T00:00:00Z"
	}`))
	assert.Error(t, err)
}

func TestUnmarshalSubscriptionRejectsBadDates(t *testing.T) {
	_, err := UnmarshalSubscription([]byte(`{
		"planId": "pro_monthly",
		"status": "active",
		"startDate": "yesterday",
		"endDate": "2024-05-01T00:00:00Z"
	}`))
	assert.Error(t, err)
}

func TestMarshalSubscriptionNil(t *testing.T) {
	_, err := MarshalSubscription(nil)
	assert.Error(t, err)
}

func TestUsageCodecRejectsNegativeCounters(t *testing.T) {
	_, err := UnmarshalUsage([]byte(`{"notesCreated": -1}`))
	assert.Error(t, err)
}

func TestUsageCodecZeroResetDateOmitted(t *testing.T) {
	data, err := MarshalUsage(UsageStats{NotesCreated: 2})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "0001-01-01")

	out, err := UnmarshalUsage(data)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NotesCreated)
	assert.True(t, out.LastResetDate.IsZero())
}

func TestEffectivelyActive(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	active := &Subscription{Status: StatusActive, EndDate: now.Add(time.Hour)}
	assert.True(t, active.EffectivelyActive(now))

	pastEnd := &Subscription{Status: StatusActive, EndDate: now.Add(-time.Hour)}
	assert.False(t, pastEnd.EffectivelyActive(now), "status is advisory, the date wins")

	cancelled := &Subscription{Status: StatusCancelled, EndDate: now.Add(time.Hour)}
	assert.True(t, cancelled.EffectivelyActive(now), "cancelled keeps access until the end date")

	expired := &Subscription{Status: StatusExpired, EndDate: now.Add(time.Hour)}
	assert.False(t, expired.EffectivelyActive(now))

	withinMargin := &Subscription{Status: StatusActive, EndDate: now.Add(10 * time.Second)}
	assert.False(t, withinMargin.EffectivelyActive(now), "ambiguity resolves toward expired")

	var nilSub *Subscription
	assert.False(t, nilSub.EffectivelyActive(now))
}
