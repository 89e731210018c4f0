package entitlement

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"studybuddy/internal/model"
	"studybuddy/internal/outbox"
	"studybuddy/internal/plan"
	"studybuddy/internal/storage"
	"studybuddy/internal/usage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	mgr   *Manager
	state *storage.FileStore
	queue *outbox.MemoryQueue
	now   time.Time
	dir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	state, err := storage.NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)
	queue := outbox.NewMemoryQueue(zerolog.Nop())
	env := &testEnv{
		mgr:   NewManager(state, plan.NewCatalog(nil), queue, usage.NewScheduler(nil), zerolog.Nop()),
		state: state,
		queue: queue,
		now:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		dir:   dir,
	}
	env.mgr.SetClock(func() time.Time { return env.now })
	return env
}

func (e *testEnv) activeSub(planID model.PlanID) *model.Subscription {
	return &model.Subscription{
		PlanID:        planID,
		Status:        model.StatusActive,
		StartDate:     e.now.AddDate(0, -1, 0),
		EndDate:       e.now.AddDate(0, 1, 0),
		Platform:      model.PlatformIOS,
		ProductID:     plan.AppStoreProMonthly,
		TransactionID: "txn-100",
		Source:        model.SourceBackend,
	}
}

func TestFreePlanQuotaEnforcement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	// Free tier allows 2 essays.
	ok, err := store.CanPerform(ctx, model.FeatureEssays, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.TrackUsage(ctx, model.FeatureEssays, 2))

	ok, err = store.CanPerform(ctx, model.FeatureEssays, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	left, err := store.Remaining(ctx, model.FeatureEssays)
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}

func TestUpgradeUnblocksImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, store.TrackUsage(ctx, model.FeatureAIQuestions, 10))
	ok, err := store.CanPerform(ctx, model.FeatureAIQuestions, 1)
	require.NoError(t, err)
	require.False(t, ok)

	gen := env.mgr.Generation("acct-1")
	require.NoError(t, store.SetSubscription(ctx, env.activeSub(model.PlanProMonthly), gen))

	ok, err = store.CanPerform(ctx, model.FeatureAIQuestions, 1)
	require.NoError(t, err)
	assert.True(t, ok, "paid quota applies without waiting for a reset")

	left, err := store.Remaining(ctx, model.FeatureAIQuestions)
	require.NoError(t, err)
	assert.Equal(t, model.Unlimited, left)
}

func TestExpiredSubscriptionFallsBackToFree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	sub := env.activeSub(model.PlanProMonthly)
	gen := env.mgr.Generation("acct-1")
	require.NoError(t, store.SetSubscription(ctx, sub, gen))

	p, err := store.CurrentPlan(ctx)
	require.NoError(t, err)
	require.Equal(t, model.PlanProMonthly, p.ID)

	env.now = sub.EndDate.Add(time.Hour)
	p, err = store.CurrentPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFree, p.ID, "status is advisory, the end date is authoritative")
}

func TestExpiryMarginResolvesTowardExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	sub := env.activeSub(model.PlanProMonthly)
	gen := env.mgr.Generation("acct-1")
	require.NoError(t, store.SetSubscription(ctx, sub, gen))

	// 10 seconds before the end date is inside the margin.
	env.now = sub.EndDate.Add(-10 * time.Second)
	p, err := store.CurrentPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFree, p.ID)
}

func TestCancelKeepsAccessUntilEndDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	gen := env.mgr.Generation("acct-1")
	require.NoError(t, store.SetSubscription(ctx, env.activeSub(model.PlanProMonthly), gen))
	require.NoError(t, store.Cancel(ctx))

	got := store.Subscription()
	require.NotNil(t, got)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.False(t, got.AutoRenew)

	p, err := store.CurrentPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PlanProMonthly, p.ID)
}

func TestTrackUsagePersistsAcrossReload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, store.TrackUsage(ctx, model.FeatureNotes, 3))
	require.NoError(t, store.TrackUsage(ctx, model.FeatureFlashcards, 1))

	// A fresh manager over the same directory sees the persisted counters.
	state2, err := storage.NewFileStore(env.dir, zerolog.Nop())
	require.NoError(t, err)
	mgr2 := NewManager(state2, plan.NewCatalog(nil), outbox.NewMemoryQueue(zerolog.Nop()), usage.NewScheduler(nil), zerolog.Nop())
	mgr2.SetClock(func() time.Time { return env.now })

	store2, err := mgr2.ForAccount(ctx, "acct-1")
	require.NoError(t, err)
	usg, err := store2.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, usg.NotesCreated)
	assert.Equal(t, 1, usg.FlashcardsGenerated)
}

func TestTrackUsageEnqueuesDelta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, store.TrackUsage(ctx, model.FeatureEssays, 1))

	msgs, err := env.queue.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "acct-1", msgs[0].Delta.AccountID)
	assert.Equal(t, model.FeatureEssays, msgs[0].Delta.Type)
	assert.Equal(t, 1, msgs[0].Delta.Increment)
}

func TestLazyDailyRollover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, store.TrackUsage(ctx, model.FeatureAIQuestions, 10))
	require.NoError(t, store.TrackUsage(ctx, model.FeatureNotes, 5))

	// Next calendar day: the daily counter rolls, the monthly one stays.
	env.now = env.now.AddDate(0, 0, 1)
	usg, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, usg.AIQuestionsAsked)
	assert.Equal(t, 5, usg.NotesCreated)
	assert.Equal(t, env.now, usg.LastResetDate.UTC())
}

func TestStaleGenerationRejectsCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	gen := env.mgr.Generation("acct-1")
	require.NoError(t, env.mgr.SignOut(ctx, "acct-1"))

	err = store.SetSubscription(ctx, env.activeSub(model.PlanProMonthly), gen)
	assert.ErrorIs(t, err, ErrStaleGeneration)
}

func TestSignOutClearsSubscriptionKeepsUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	gen := env.mgr.Generation("acct-1")
	require.NoError(t, store.SetSubscription(ctx, env.activeSub(model.PlanProMonthly), gen))
	require.NoError(t, store.TrackUsage(ctx, model.FeatureNotes, 4))

	require.NoError(t, env.mgr.SignOut(ctx, "acct-1"))

	fresh, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, fresh.Subscription())
	usg, err := fresh.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, usg.NotesCreated)
}

func TestAdoptRemoteUsageTakesMaxPerCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, store.TrackUsage(ctx, model.FeatureNotes, 5))
	require.NoError(t, store.TrackUsage(ctx, model.FeatureEssays, 1))

	remote := model.UsageStats{NotesCreated: 3, EssaysGenerated: 2}
	require.NoError(t, store.AdoptRemoteUsage(ctx, remote))

	usg, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, usg.NotesCreated, "spent quota is never granted back")
	assert.Equal(t, 2, usg.EssaysGenerated)
}

func TestAdoptRemoteUsageNewerResetWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)

	require.NoError(t, store.TrackUsage(ctx, model.FeatureNotes, 5))

	remote := model.UsageStats{NotesCreated: 1, LastResetDate: env.now.Add(time.Hour)}
	require.NoError(t, store.AdoptRemoteUsage(ctx, remote))

	usg, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, usg.NotesCreated, "a remote record with a newer reset replaces local counters")
}

func TestMalformedUsageFallsBackToDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	store, err := env.mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NoError(t, store.TrackUsage(ctx, model.FeatureNotes, 5))

	// Corrupt the persisted record, then reload through a fresh manager.
	corruptUsageRecord(t, env.dir, "acct-1")

	state2, err := storage.NewFileStore(env.dir, zerolog.Nop())
	require.NoError(t, err)
	mgr2 := NewManager(state2, plan.NewCatalog(nil), outbox.NewMemoryQueue(zerolog.Nop()), usage.NewScheduler(nil), zerolog.Nop())
	mgr2.SetClock(func() time.Time { return env.now })

	store2, err := mgr2.ForAccount(ctx, "acct-1")
	require.NoError(t, err, "a malformed record must not fail account loading")
	usg, err := store2.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, usg.NotesCreated)
}

func corruptUsageRecord(t *testing.T, dir, accountID string) {
	t.Helper()
	path := filepath.Join(dir, "accounts", accountID, "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
}

// commitHookStore lets a test interleave work between a commit's generation
// check and its persisted write.
type commitHookStore struct {
	storage.StateStore
	onSave func()
}

func (h *commitHookStore) SaveSubscription(ctx context.Context, accountID string, sub *model.Subscription) error {
	if h.onSave != nil {
		h.onSave()
	}
	return h.StateStore.SaveSubscription(ctx, accountID, sub)
}

func TestSignOutDuringCommitNeverResurrectsRecord(t *testing.T) {
	dir := t.TempDir()
	inner, err := storage.NewFileStore(dir, zerolog.Nop())
	require.NoError(t, err)
	hooked := &commitHookStore{StateStore: inner}
	mgr := NewManager(hooked, plan.NewCatalog(nil), outbox.NewMemoryQueue(zerolog.Nop()), usage.NewScheduler(nil), zerolog.Nop())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mgr.SetClock(func() time.Time { return now })

	ctx := context.Background()
	store, err := mgr.ForAccount(ctx, "acct-1")
	require.NoError(t, err)
	gen := mgr.Generation("acct-1")

	// Fire a sign-out while the commit sits between its generation check and
	// the persisted write. The sign-out must wait for the commit to finish,
	// then delete; it must never land in between and get overwritten.
	signedOut := make(chan error, 1)
	var fired sync.Once
	hooked.onSave = func() {
		fired.Do(func() {
			go func() { signedOut <- mgr.SignOut(ctx, "acct-1") }()
			time.Sleep(50 * time.Millisecond)
		})
	}

	sub := &model.Subscription{
		PlanID:        model.PlanProMonthly,
		Status:        model.StatusActive,
		StartDate:     now.AddDate(0, -1, 0),
		EndDate:       now.AddDate(0, 1, 0),
		Platform:      model.PlatformIOS,
		ProductID:     plan.AppStoreProMonthly,
		TransactionID: "txn-race",
		Source:        model.SourceBackend,
	}
	require.NoError(t, store.SetSubscription(ctx, sub, gen))
	require.NoError(t, <-signedOut)

	_, err = inner.LoadSubscription(ctx, "acct-1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "a signed-out account must not keep a subscription record")

	// The generation rotated with the sign-out, so a late retry of the same
	// commit is discarded.
	err = store.SetSubscription(ctx, sub, gen)
	assert.ErrorIs(t, err, ErrStaleGeneration)
}
