package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studybuddy/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)
	return fs, dir
}

func testSubscription() *model.Subscription {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return &model.Subscription{
		PlanID:        model.PlanProMonthly,
		Status:        model.StatusActive,
		StartDate:     start,
		EndDate:       start.AddDate(0, 1, 0),
		AutoRenew:     true,
		Platform:      model.PlatformAndroid,
		ProductID:     "studybuddy_pro_monthly",
		TransactionID: "gpa.1234",
		Source:        model.SourceBackend,
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	_, err := fs.LoadSubscription(ctx, "acct-1")
	assert.ErrorIs(t, err, ErrNotFound)

	want := testSubscription()
	require.NoError(t, fs.SaveSubscription(ctx, "acct-1", want))

	got, err := fs.LoadSubscription(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, want.PlanID, got.PlanID)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.EndDate.Equal(got.EndDate))
	assert.Equal(t, want.TransactionID, got.TransactionID)

	require.NoError(t, fs.DeleteSubscription(ctx, "acct-1"))
	_, err = fs.LoadSubscription(ctx, "acct-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSubscriptionMissingIsNoOp(t *testing.T) {
	fs, _ := newFileStore(t)
	assert.NoError(t, fs.DeleteSubscription(context.Background(), "never-seen"))
}

func TestCorruptRecordIsQuarantined(t *testing.T) {
	fs, dir := newFileStore(t)
	ctx := context.Background()
	require.NoError(t, fs.SaveSubscription(ctx, "acct-1", testSubscription()))

	path := filepath.Join(dir, "accounts", "acct-1", "subscription.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	_, err := fs.LoadSubscription(ctx, "acct-1")
	assert.ErrorIs(t, err, ErrMalformedState)

	// The corrupt file moved aside; the next load starts from defaults.
	assert.FileExists(t, path+".corrupt")
	_, err = fs.LoadSubscription(ctx, "acct-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddUsageAccumulates(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	got, err := fs.AddUsage(ctx, "acct-1", model.FeatureNotes, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NotesCreated)

	got, err = fs.AddUsage(ctx, "acct-1", model.FeatureNotes, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got.NotesCreated)

	stored, err := fs.LoadUsage(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.NotesCreated)
}

func TestApplyResetGuardedByPreviousResetDate(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, fs.SaveUsage(ctx, "acct-1", model.UsageStats{AIQuestionsAsked: 7, LastResetDate: day1}))

	// First reset wins.
	rolled := model.UsageStats{LastResetDate: day2}
	got, err := fs.ApplyReset(ctx, "acct-1", rolled, day1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AIQuestionsAsked)

	// A second writer still carrying the old prevReset loses; the stored
	// record is returned unchanged.
	stale := model.UsageStats{AIQuestionsAsked: 99, LastResetDate: day2}
	got, err = fs.ApplyReset(ctx, "acct-1", stale, day1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AIQuestionsAsked)
	assert.True(t, got.LastResetDate.Equal(day2))
}

func TestFindAccountByTransaction(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	sub := testSubscription()
	sub.OriginalTransactionID = "orig-42"
	require.NoError(t, fs.SaveSubscription(ctx, "acct-owner", sub))
	other := testSubscription()
	other.TransactionID = "gpa.9999"
	other.OriginalTransactionID = ""
	require.NoError(t, fs.SaveSubscription(ctx, "acct-other", other))

	id, err := fs.FindAccountByTransaction(ctx, "gpa.1234")
	require.NoError(t, err)
	assert.Equal(t, "acct-owner", id)

	id, err = fs.FindAccountByTransaction(ctx, "orig-42")
	require.NoError(t, err)
	assert.Equal(t, "acct-owner", id)

	_, err = fs.FindAccountByTransaction(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fs.FindAccountByTransaction(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAccounts(t *testing.T) {
	fs, _ := newFileStore(t)
	ctx := context.Background()

	accounts, err := fs.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, fs.SaveSubscription(ctx, "acct-a", testSubscription()))
	require.NoError(t, fs.SaveUsage(ctx, "acct-b", model.UsageStats{NotesCreated: 1}))

	accounts, err = fs.ListAccounts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acct-a", "acct-b"}, accounts)
}
