package billing

import (
	"context"
	"fmt"
	"testing"

	"studybuddy/internal/accountapi"
	"studybuddy/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestorePicksLatestEndDate(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		sub := env.verifiedSub(req.TransactionID)
		if req.TransactionID == "txn-short" {
			sub.EndDate = env.now.AddDate(0, 0, 7)
		} else {
			sub.PlanID = model.PlanProYearly
			sub.EndDate = env.now.AddDate(1, 0, 0)
		}
		return sub, nil
	}

	res, err := env.verifier.Restore(context.Background(), "acct-1", []model.PurchaseEvent{
		event("txn-short"),
		event("txn-long"),
	})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "txn-long", res.Subscription.TransactionID)
	assert.Equal(t, model.SourceBackend, res.Subscription.Source)

	store, err := env.mgr.ForAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	committed := store.Subscription()
	require.NotNil(t, committed)
	assert.Equal(t, "txn-long", committed.TransactionID, "only the winner is committed")
}

func TestRestoreDeduplicatesTransactions(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return env.verifiedSub(req.TransactionID), nil
	}

	res, err := env.verifier.Restore(context.Background(), "acct-1", []model.PurchaseEvent{
		event("txn-1"),
		event("txn-1"),
		event("txn-1"),
	})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, 1, env.api.callCount())
}

func TestRestoreNothingActiveIsNotAnError(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		sub := env.verifiedSub(req.TransactionID)
		sub.Status = model.StatusExpired
		sub.EndDate = env.now.AddDate(0, -1, 0)
		sub.StartDate = sub.EndDate.AddDate(0, -1, 0)
		return sub, nil
	}

	res, err := env.verifier.Restore(context.Background(), "acct-1", []model.PurchaseEvent{event("txn-old")})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Subscription)

	store, err := env.mgr.ForAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Nil(t, store.Subscription())
}

func TestRestoreUnreachableIsRetryable(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return nil, fmt.Errorf("%w: connection refused", accountapi.ErrUnavailable)
	}

	_, err := env.verifier.Restore(context.Background(), "acct-1", []model.PurchaseEvent{event("txn-1")})
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestRestoreSkipsRejectedPurchases(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		if req.TransactionID == "txn-bad" {
			return nil, fmt.Errorf("%w: bad receipt", accountapi.ErrRejected)
		}
		return env.verifiedSub(req.TransactionID), nil
	}

	res, err := env.verifier.Restore(context.Background(), "acct-1", []model.PurchaseEvent{
		event("txn-bad"),
		event("txn-good"),
	})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, "txn-good", res.Subscription.TransactionID)
}

func TestRestoreEmptyListFindsNothing(t *testing.T) {
	env := newVerifierEnv(t, Config{})
	env.api.verify = func(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error) {
		return env.verifiedSub(req.TransactionID), nil
	}

	res, err := env.verifier.Restore(context.Background(), "acct-1", nil)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, 0, env.api.callCount())
}
