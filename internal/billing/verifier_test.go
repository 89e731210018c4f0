package billing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studybuddy/internal/accountapi"
	"studybuddy/internal/entitlement"
	"studybuddy/internal/model"
	"studybuddy/internal/outbox"
	"studybuddy/internal/plan"
	"studybuddy/internal/storage"
	"studybuddy/internal/usage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu     sync.Mutex
	calls  int32
	verify func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error)
}

func (f *fakeAPI) Verify(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	fn := f.verify
	f.mu.Unlock()
	return fn(ctx, accountID, req)
}

func (f *fakeAPI) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type verifierEnv struct {
	mgr      *entitlement.Manager
	verifier *Verifier
	api      *fakeAPI
	now      time.Time
}

func newVerifierEnv(t *testing.T, cfg Config) *verifierEnv {
	t.Helper()
	state, err := storage.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	catalog := plan.NewCatalog(nil)
	mgr := entitlement.NewManager(state, catalog, outbox.NewMemoryQueue(zerolog.Nop()), usage.NewScheduler(nil), zerolog.Nop())

	env := &verifierEnv{
		mgr: mgr,
		api: &fakeAPI{},
		now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	mgr.SetClock(func() time.Time { return env.now })
	env.verifier = NewVerifier(env.api, mgr, catalog, nil, cfg, zerolog.Nop())
	env.verifier.SetClock(func() time.Time { return env.now })
	return env
}

func (e *verifierEnv) verifiedSub(txnID string) *model.Subscription {
	return &model.Subscription{
		PlanID:        model.PlanProMonthly,
		Status:        model.StatusActive,
		StartDate:     e.now,
		EndDate:       e.now.AddDate(0, 1, 0),
		Platform:      model.PlatformIOS,
		ProductID:     plan.AppStoreProMonthly,
		TransactionID: txnID,
	}
}

func event(txnID string) model.PurchaseEvent {
	return model.PurchaseEvent{
		Kind:          model.EventUpdate,
		Platform:      model.PlatformIOS,
		ProductID:     plan.AppStoreProMonthly,
		TransactionID: txnID,
	}
}

func TestSubmitCommitsVerifiedSubscription(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return env.verifiedSub(req.TransactionID), nil
	}

	res, err := env.verifier.Submit(context.Background(), "acct-1", event("txn-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Subscription)
	assert.Equal(t, model.SourceBackend, res.Subscription.Source)
	assert.Equal(t, env.now, res.Subscription.VerifiedAt)

	store, err := env.mgr.ForAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	committed := store.Subscription()
	require.NotNil(t, committed)
	assert.Equal(t, "txn-1", committed.TransactionID)
}

func TestSubmitDuplicateTransactionIsIdempotent(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return env.verifiedSub(req.TransactionID), nil
	}

	first, err := env.verifier.Submit(context.Background(), "acct-1", event("txn-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, first.Outcome)

	second, err := env.verifier.Submit(context.Background(), "acct-1", event("txn-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, second.Outcome)
	assert.Equal(t, 1, env.api.callCount(), "the duplicate must not hit the account service again")
}

func TestSubmitRejectionLeavesEntitlementUntouched(t *testing.T) {
	env := newVerifierEnv(t, Config{GraceEnabled: true})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return nil, fmt.Errorf("%w: bad receipt", accountapi.ErrRejected)
	}

	res, err := env.verifier.Submit(context.Background(), "acct-1", event("txn-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrVerificationFailed)

	store, err := env.mgr.ForAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Nil(t, store.Subscription(), "a rejection never grants a grace window")
}

func TestSubmitUnreachableGrantsPendingWindow(t *testing.T) {
	env := newVerifierEnv(t, Config{GraceEnabled: true, GraceWindow: 24 * time.Hour})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return nil, fmt.Errorf("%w: connection refused", accountapi.ErrUnavailable)
	}

	res, err := env.verifier.Submit(context.Background(), "acct-1", event("txn-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomePending, res.Outcome)
	require.NotNil(t, res.Subscription)
	assert.Equal(t, model.StatusPendingVerification, res.Subscription.Status)
	assert.Equal(t, model.PlanProMonthly, res.Subscription.PlanID)
	assert.Equal(t, env.now.Add(24*time.Hour), res.Subscription.EndDate)
	assert.Equal(t, model.SourcePlatform, res.Subscription.Source)
}

func TestSubmitUnreachableUnknownProductGetsNothing(t *testing.T) {
	env := newVerifierEnv(t, Config{GraceEnabled: true})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return nil, fmt.Errorf("%w: timeout", accountapi.ErrUnavailable)
	}

	ev := event("txn-1")
	ev.ProductID = "com.other.unknown"
	res, err := env.verifier.Submit(context.Background(), "acct-1", ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	store, err := env.mgr.ForAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Nil(t, store.Subscription(), "plan mapping comes from the registry, never inferred")
}

func TestSubmitGraceDisabledFailsClosed(t *testing.T) {
	env := newVerifierEnv(t, Config{GraceEnabled: false})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return nil, fmt.Errorf("%w: timeout", accountapi.ErrUnavailable)
	}

	res, err := env.verifier.Submit(context.Background(), "acct-1", event("txn-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestSubmitCancelledIsSilentNoOp(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return env.verifiedSub(req.TransactionID), nil
	}

	res, err := env.verifier.Submit(context.Background(), "acct-1", model.PurchaseEvent{
		Kind:     model.EventCancelled,
		Platform: model.PlatformIOS,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrPurchaseCancelled)
	assert.Equal(t, 0, env.api.callCount(), "cancelled events must not be verified")

	store, err := env.mgr.ForAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Nil(t, store.Subscription())
}

func TestSubmitQueuedEventsRunInOrder(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	var order []string
	var mu sync.Mutex
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		mu.Lock()
		order = append(order, req.TransactionID)
		mu.Unlock()
		return env.verifiedSub(req.TransactionID), nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 3)
	errs := make([]error, 3)
	for i, txn := range []string{"txn-a", "txn-b", "txn-c"} {
		wg.Add(1)
		go func(i int, txn string) {
			defer wg.Done()
			results[i], errs[i] = env.verifier.Submit(context.Background(), "acct-1", event(txn))
		}(i, txn)
		// Give each submission time to enqueue so the lane order is fixed.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, OutcomeSuccess, results[i].Outcome)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"txn-a", "txn-b", "txn-c"}, order)
}

func TestSubmitStaleGenerationIsDiscarded(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		// The initiating context is torn down mid-verification.
		require.NoError(t, env.mgr.SignOut(ctx, accountID))
		return env.verifiedSub(req.TransactionID), nil
	}

	res, err := env.verifier.Submit(context.Background(), "acct-1", event("txn-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, entitlement.ErrStaleGeneration)

	store, err := env.mgr.ForAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Nil(t, store.Subscription(), "a late result must never overwrite state after sign-out")
}
