package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studybuddy/internal/accountapi"
	"studybuddy/internal/archive"
	"studybuddy/internal/entitlement"
	"studybuddy/internal/model"
	"studybuddy/internal/plan"

	"github.com/rs/zerolog"
)

// ErrVerificationFailed wraps a rejected or unreachable verification.
// The caller may retry; entitlement state was left untouched.
var ErrVerificationFailed = errors.New("verification_failed")

// ErrPurchaseCancelled marks a user-abandoned purchase flow. It is never
// surfaced to the user as an error.
var ErrPurchaseCancelled = errors.New("purchase_cancelled")

// Outcome is the terminal state of one verification pass.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomePending means the account service was unreachable and a bounded
	// pending-verification grace window was committed instead.
	OutcomePending Outcome = "pending"
)

// Result is what a submitted purchase event resolves to.
type Result struct {
	Outcome      Outcome
	Subscription *model.Subscription
	Err          error
}

// VerifyAPI is the slice of the account service the verifier needs.
type VerifyAPI interface {
	Verify(ctx context.Context, accountID string, req accountapi.VerifyRequest) (*model.Subscription, error)
}

// Config tunes the verifier's pending-verification grace behavior.
type Config struct {
	// GraceEnabled turns on the bounded grace window when the account
	// service is unreachable. Rejections never grant grace.
	GraceEnabled bool
	// GraceWindow bounds a pending-verification subscription's lifetime.
	GraceWindow time.Duration
}

type job struct {
	event      model.PurchaseEvent
	generation string
	waiters    []chan Result
}

// accountLane serializes verifications per account: busy is the worker's run
// state, queue holds events that arrived while one was in flight.
type accountLane struct {
	busy  bool
	queue []*job
}

// Verifier runs the purchase verification state machine. At most one
// verification is in flight per account; later events queue FIFO rather than
// being dropped. A transaction id that already produced the committed
// subscription resolves to an immediate no-op success.
type Verifier struct {
	api     VerifyAPI
	mgr     *entitlement.Manager
	catalog *plan.Catalog
	arch    archive.Archiver
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger

	mu    sync.Mutex
	lanes map[string]*accountLane
}

// NewVerifier wires the verifier.
func NewVerifier(api VerifyAPI, mgr *entitlement.Manager, catalog *plan.Catalog, arch archive.Archiver, cfg Config, logger zerolog.Logger) *Verifier {
	if arch == nil {
		arch = archive.Noop{}
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 24 * time.Hour
	}
	return &Verifier{
		api:     api,
		mgr:     mgr,
		catalog: catalog,
		arch:    arch,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With().Str("service", "PurchaseVerifier").Logger(),
	}
}

// SetClock overrides the verifier's clock, for tests.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// Submit queues a purchase event for the account and waits for its result.
// Identical events (same transaction id and kind) already queued coalesce
// onto the same verification pass. If ctx ends first, the verification keeps
// running in the background; its commit is still guarded by the generation
// token captured here.
func (v *Verifier) Submit(ctx context.Context, accountID string, ev model.PurchaseEvent) (Result, error) {
	if accountID == "" {
		return Result{}, fmt.Errorf("empty account id")
	}
	if ev.Kind == model.EventUpdate && ev.TransactionID == "" {
		return Result{}, fmt.Errorf("purchase event missing transaction id")
	}

	done := make(chan Result, 1)
	v.mu.Lock()
	if v.lanes == nil {
		v.lanes = make(map[string]*accountLane)
	}
	lane, ok := v.lanes[accountID]
	if !ok {
		lane = &accountLane{}
		v.lanes[accountID] = lane
	}
	coalesced := false
	for _, j := range lane.queue {
		if j.event.TransactionID == ev.TransactionID && j.event.Kind == ev.Kind {
			j.waiters = append(j.waiters, done)
			coalesced = true
			break
		}
	}
	if !coalesced {
		lane.queue = append(lane.queue, &job{
			event:      ev,
			generation: v.mgr.Generation(accountID),
			waiters:    []chan Result{done},
		})
	}
	start := !lane.busy
	if start {
		lane.busy = true
	}
	v.mu.Unlock()

	if start {
		go v.drain(accountID)
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// drain is the per-account worker: it pops queued jobs in order and flips the
// busy flag off once the queue is empty.
func (v *Verifier) drain(accountID string) {
	for {
		v.mu.Lock()
		lane := v.lanes[accountID]
		if len(lane.queue) == 0 {
			lane.busy = false
			v.mu.Unlock()
			return
		}
		j := lane.queue[0]
		lane.queue = lane.queue[1:]
		v.mu.Unlock()

		res := v.process(context.Background(), accountID, j)
		for _, w := range j.waiters {
			w <- res
		}
	}
}

func (v *Verifier) process(ctx context.Context, accountID string, j *job) Result {
	ev := j.event
	log := v.logger.With().Str("account_id", accountID).Str("transaction_id", ev.TransactionID).Logger()

	if err := v.arch.Archive(ctx, accountID, ev); err != nil {
		log.Warn().Err(err).Msg("Failed to archive purchase event")
	}

	switch ev.Kind {
	case model.EventCancelled:
		log.Info().Msg("Purchase flow abandoned by user")
		return Result{Outcome: OutcomeCancelled, Err: ErrPurchaseCancelled}
	case model.EventError:
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: platform reported purchase error", ErrVerificationFailed)}
	}

	store, err := v.mgr.ForAccount(ctx, accountID)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	// Idempotency: a transaction already committed as the backend-verified
	// subscription is a duplicate purchase-update callback.
	if cur := store.Subscription(); cur != nil && cur.Source == model.SourceBackend && cur.MatchesTransaction(ev.TransactionID) {
		log.Debug().Msg("Duplicate purchase event, already committed")
		return Result{Outcome: OutcomeSuccess, Subscription: cur}
	}

	sub, err := v.api.Verify(ctx, accountID, accountapi.VerifyRequest{
		Platform:              ev.Platform,
		ProductID:             ev.ProductID,
		TransactionID:         ev.TransactionID,
		OriginalTransactionID: ev.OriginalTransactionID,
		PurchaseToken:         ev.PurchaseToken,
		ReceiptData:           ev.ReceiptData,
	})
	switch {
	case err == nil:
		committed := *sub
		committed.Source = model.SourceBackend
		committed.VerifiedAt = v.now()
		if err := store.SetSubscription(ctx, &committed, j.generation); err != nil {
			if errors.Is(err, entitlement.ErrStaleGeneration) {
				log.Info().Msg("Discarding verification result, initiating context is gone")
			}
			return Result{Outcome: OutcomeFailed, Err: err}
		}
		log.Info().Str("plan_id", string(committed.PlanID)).Msg("Purchase verified and committed")
		return Result{Outcome: OutcomeSuccess, Subscription: &committed}

	case errors.Is(err, accountapi.ErrUnavailable):
		if res, ok := v.commitPending(ctx, store, j, log); ok {
			return res
		}
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}

	default:
		log.Warn().Err(err).Msg("Verification rejected")
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}
}

// commitPending grants a bounded pending-verification window when the account
// service is unreachable. The plan comes from the product registry only;
// unmapped products get nothing.
func (v *Verifier) commitPending(ctx context.Context, store *entitlement.Store, j *job, log zerolog.Logger) (Result, bool) {
	if !v.cfg.GraceEnabled {
		return Result{}, false
	}
	planID, ok := v.catalog.PlanIDForProduct(j.event.ProductID)
	if !ok {
		log.Warn().Str("product_id", j.event.ProductID).Msg("Unregistered product, no grace window granted")
		return Result{}, false
	}
	now := v.now()
	pending := &model.Subscription{
		PlanID:                planID,
		Status:                model.StatusPendingVerification,
		StartDate:             now,
		EndDate:               now.Add(v.cfg.GraceWindow),
		Platform:              j.event.Platform,
		ProductID:             j.event.ProductID,
		TransactionID:         j.event.TransactionID,
		OriginalTransactionID: j.event.OriginalTransactionID,
		Source:                model.SourcePlatform,
	}
	if err := store.SetSubscription(ctx, pending, j.generation); err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}, true
	}
	log.Info().Str("plan_id", string(planID)).Time("until", pending.EndDate).Msg("Account service unreachable, granted pending-verification window")
	return Result{Outcome: OutcomePending, Subscription: pending}, true
}
