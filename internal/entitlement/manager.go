package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studybuddy/internal/model"
	"studybuddy/internal/outbox"
	"studybuddy/internal/plan"
	"studybuddy/internal/storage"
	"studybuddy/internal/usage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrStaleGeneration is returned when a commit carries a generation token
// that was rotated away (sign-out or teardown) after the operation started.
// The late result must be discarded, never applied.
var ErrStaleGeneration = errors.New("stale_generation")

// Manager owns one Store per account. It is the only factory: every consumer
// gets its Store here so that a single instance is the logical owner of each
// account's records within the process.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*Store
	gens   map[string]string

	state   storage.StateStore
	catalog *plan.Catalog
	queue   outbox.Queue
	sched   usage.Scheduler
	now     func() time.Time
	logger  zerolog.Logger
}

// NewManager wires the manager with its persistence, catalog, outbox and
// rollover scheduler.
func NewManager(state storage.StateStore, catalog *plan.Catalog, queue outbox.Queue, sched usage.Scheduler, logger zerolog.Logger) *Manager {
	return &Manager{
		stores:  make(map[string]*Store),
		gens:    make(map[string]string),
		state:   state,
		catalog: catalog,
		queue:   queue,
		sched:   sched,
		now:     time.Now,
		logger:  logger.With().Str("service", "EntitlementManager").Logger(),
	}
}

// SetClock overrides the manager's clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// ForAccount returns the account's Store, loading persisted state on first
// access. Malformed persisted records have already been quarantined by the
// state store; the account starts from defaults instead of failing.
func (m *Manager) ForAccount(ctx context.Context, accountID string) (*Store, error) {
	if accountID == "" {
		return nil, fmt.Errorf("empty account id")
	}
	m.mu.Lock()
	if st, ok := m.stores[accountID]; ok {
		m.mu.Unlock()
		return st, nil
	}
	if _, ok := m.gens[accountID]; !ok {
		m.gens[accountID] = uuid.NewString()
	}
	m.mu.Unlock()

	sub, err := m.state.LoadSubscription(ctx, accountID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		sub = nil
	case errors.Is(err, storage.ErrMalformedState):
		m.logger.Warn().Str("account_id", accountID).Msg("Discarding malformed subscription record")
		sub = nil
	default:
		return nil, err
	}

	usg, err := m.state.LoadUsage(ctx, accountID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		usg = model.UsageStats{}
	case errors.Is(err, storage.ErrMalformedState):
		m.logger.Warn().Str("account_id", accountID).Msg("Discarding malformed usage record")
		usg = model.UsageStats{}
	default:
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Lost the race to another loader; its instance stays the owner.
	if st, ok := m.stores[accountID]; ok {
		return st, nil
	}
	st := &Store{
		accountID: accountID,
		mgr:       m,
		sub:       sub,
		usage:     usg,
	}
	m.stores[accountID] = st
	return st, nil
}

// Generation returns the account's current generation token. Commits carry
// the token captured when their operation was enqueued.
func (m *Manager) Generation(accountID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.gens[accountID]
	if !ok {
		gen = uuid.NewString()
		m.gens[accountID] = gen
	}
	return gen
}

// SignOut clears the account's subscription record, drops its Store and
// rotates the generation token so in-flight results cannot commit afterwards.
// Usage counters survive sign-out.
func (m *Manager) SignOut(ctx context.Context, accountID string) error {
	m.mu.Lock()
	st := m.stores[accountID]
	m.mu.Unlock()
	// Holding the store lock serializes sign-out against in-flight commits:
	// a commit either finishes before the delete below, or sees the rotated
	// generation and is discarded.
	if st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
	}
	if err := m.state.DeleteSubscription(ctx, accountID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.stores, accountID)
	m.gens[accountID] = uuid.NewString()
	m.mu.Unlock()
	if st != nil {
		st.sub = nil
	}
	m.logger.Info().Str("account_id", accountID).Msg("Account signed out, subscription cleared")
	return nil
}

// KnownAccounts lists every account with persisted state, for the syncer.
func (m *Manager) KnownAccounts(ctx context.Context) ([]string, error) {
	return m.state.ListAccounts(ctx)
}
