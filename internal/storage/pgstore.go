package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studybuddy/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGStore is the Postgres-backed StateStore used by multi-worker deployments.
// AddUsage is a single-statement atomic increment rather than a
// read-modify-write, and ApplyReset is guarded by the previous reset date.
type PGStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPGStore creates a PGStore over the given pool.
func NewPGStore(pool *pgxpool.Pool, logger zerolog.Logger) *PGStore {
	return &PGStore{
		pool:   pool,
		logger: logger.With().Str("service", "PGStore").Logger(),
	}
}

// usageColumn maps a feature onto its counter column. The column name is
// interpolated into SQL, so it must come from this closed table.
func usageColumn(feature model.Feature) (string, error) {
	switch feature {
	case model.FeatureNotes:
		return "notes_created", nil
	case model.FeatureFlashcards:
		return "flashcards_generated", nil
	case model.FeatureAIQuestions:
		return "ai_questions_asked", nil
	case model.FeatureEssays:
		return "essays_generated", nil
	}
	return "", fmt.Errorf("unknown feature %q", feature)
}

func (s *PGStore) LoadSubscription(ctx context.Context, accountID string) (*model.Subscription, error) {
	const q = `
        SELECT plan_id, status, start_date, end_date, auto_renew, platform,
               product_id, transaction_id, original_transaction_id, is_trial, source, verified_at
        FROM subscriptions
        WHERE account_id = $1
    `
	var sub model.Subscription
	var verifiedAt *time.Time
	err := s.pool.QueryRow(ctx, q, accountID).Scan(
		&sub.PlanID,
		&sub.Status,
		&sub.StartDate,
		&sub.EndDate,
		&sub.AutoRenew,
		&sub.Platform,
		&sub.ProductID,
		&sub.TransactionID,
		&sub.OriginalTransactionID,
		&sub.IsTrial,
		&sub.Source,
		&verifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch subscription for account %s: %w", accountID, err)
	}
	if verifiedAt != nil {
		sub.VerifiedAt = *verifiedAt
	}
	if sub.EndDate.Before(sub.StartDate) {
		return nil, fmt.Errorf("%w: subscription for account %s", ErrMalformedState, accountID)
	}
	return &sub, nil
}

func (s *PGStore) SaveSubscription(ctx context.Context, accountID string, sub *model.Subscription) error {
	const q = `
        INSERT INTO subscriptions (account_id, plan_id, status, start_date, end_date, auto_renew, platform,
                                   product_id, transaction_id, original_transaction_id, is_trial, source,
                                   verified_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
        ON CONFLICT (account_id) DO UPDATE
        SET plan_id = EXCLUDED.plan_id,
            status = EXCLUDED.status,
            start_date = EXCLUDED.start_date,
            end_date = EXCLUDED.end_date,
            auto_renew = EXCLUDED.auto_renew,
            platform = EXCLUDED.platform,
            product_id = EXCLUDED.product_id,
            transaction_id = EXCLUDED.transaction_id,
            original_transaction_id = EXCLUDED.original_transaction_id,
            is_trial = EXCLUDED.is_trial,
            source = EXCLUDED.source,
            verified_at = EXCLUDED.verified_at,
            updated_at = NOW();
    `
	var verifiedAt *time.Time
	if !sub.VerifiedAt.IsZero() {
		verifiedAt = &sub.VerifiedAt
	}
	_, err := s.pool.Exec(ctx, q, accountID, sub.PlanID, sub.Status, sub.StartDate, sub.EndDate,
		sub.AutoRenew, sub.Platform, sub.ProductID, sub.TransactionID, sub.OriginalTransactionID,
		sub.IsTrial, sub.Source, verifiedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription for account %s: %w", accountID, err)
	}
	return nil
}

func (s *PGStore) DeleteSubscription(ctx context.Context, accountID string) error {
	const q = `DELETE FROM subscriptions WHERE account_id = $1`
	if _, err := s.pool.Exec(ctx, q, accountID); err != nil {
		return fmt.Errorf("delete subscription for account %s: %w", accountID, err)
	}
	return nil
}

func (s *PGStore) LoadUsage(ctx context.Context, accountID string) (model.UsageStats, error) {
	const q = `
        SELECT notes_created, flashcards_generated, ai_questions_asked, essays_generated, last_reset_date
        FROM usage_stats
        WHERE account_id = $1
    `
	var u model.UsageStats
	err := s.pool.QueryRow(ctx, q, accountID).Scan(
		&u.NotesCreated,
		&u.FlashcardsGenerated,
		&u.AIQuestionsAsked,
		&u.EssaysGenerated,
		&u.LastResetDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UsageStats{}, ErrNotFound
	}
	if err != nil {
		return model.UsageStats{}, fmt.Errorf("fetch usage for account %s: %w", accountID, err)
	}
	return u, nil
}

func (s *PGStore) SaveUsage(ctx context.Context, accountID string, usage model.UsageStats) error {
	const q = `
        INSERT INTO usage_stats (account_id, notes_created, flashcards_generated, ai_questions_asked,
                                 essays_generated, last_reset_date, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (account_id) DO UPDATE
        SET notes_created = EXCLUDED.notes_created,
            flashcards_generated = EXCLUDED.flashcards_generated,
            ai_questions_asked = EXCLUDED.ai_questions_asked,
            essays_generated = EXCLUDED.essays_generated,
            last_reset_date = EXCLUDED.last_reset_date,
            updated_at = NOW();
    `
	_, err := s.pool.Exec(ctx, q, accountID, usage.NotesCreated, usage.FlashcardsGenerated,
		usage.AIQuestionsAsked, usage.EssaysGenerated, usage.LastResetDate)
	if err != nil {
		return fmt.Errorf("upsert usage for account %s: %w", accountID, err)
	}
	return nil
}

// AddUsage increments one counter atomically and returns the resulting row.
func (s *PGStore) AddUsage(ctx context.Context, accountID string, feature model.Feature, qty int) (model.UsageStats, error) {
	col, err := usageColumn(feature)
	if err != nil {
		return model.UsageStats{}, err
	}
	q := fmt.Sprintf(`
        INSERT INTO usage_stats (account_id, %[1]s, last_reset_date, updated_at)
        VALUES ($1, $2, NOW(), NOW())
        ON CONFLICT (account_id) DO UPDATE
        SET %[1]s = usage_stats.%[1]s + EXCLUDED.%[1]s,
            updated_at = NOW()
        RETURNING notes_created, flashcards_generated, ai_questions_asked, essays_generated, last_reset_date;
    `, col)
	var u model.UsageStats
	err = s.pool.QueryRow(ctx, q, accountID, qty).Scan(
		&u.NotesCreated,
		&u.FlashcardsGenerated,
		&u.AIQuestionsAsked,
		&u.EssaysGenerated,
		&u.LastResetDate,
	)
	if err != nil {
		return model.UsageStats{}, fmt.Errorf("increment %s for account %s: %w", feature, accountID, err)
	}
	return u, nil
}

// ApplyReset persists a rollover only when no other worker got there first:
// the UPDATE is guarded by the previous reset date.
func (s *PGStore) ApplyReset(ctx context.Context, accountID string, rolled model.UsageStats, prevReset time.Time) (model.UsageStats, error) {
	const q = `
        UPDATE usage_stats
        SET notes_created = $3,
            flashcards_generated = $4,
            ai_questions_asked = $5,
            essays_generated = $6,
            last_reset_date = $7,
            updated_at = NOW()
        WHERE account_id = $1 AND last_reset_date = $2
        RETURNING notes_created, flashcards_generated, ai_questions_asked, essays_generated, last_reset_date;
    `
	var u model.UsageStats
	err := s.pool.QueryRow(ctx, q, accountID, prevReset,
		rolled.NotesCreated, rolled.FlashcardsGenerated, rolled.AIQuestionsAsked,
		rolled.EssaysGenerated, rolled.LastResetDate).Scan(
		&u.NotesCreated,
		&u.FlashcardsGenerated,
		&u.AIQuestionsAsked,
		&u.EssaysGenerated,
		&u.LastResetDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row does not exist yet or another worker already rolled
		// it over; return whatever is stored now.
		current, loadErr := s.LoadUsage(ctx, accountID)
		if errors.Is(loadErr, ErrNotFound) {
			if saveErr := s.SaveUsage(ctx, accountID, rolled); saveErr != nil {
				return model.UsageStats{}, saveErr
			}
			return rolled, nil
		}
		if loadErr != nil {
			return model.UsageStats{}, loadErr
		}
		return current, nil
	}
	if err != nil {
		return model.UsageStats{}, fmt.Errorf("apply usage reset for account %s: %w", accountID, err)
	}
	return u, nil
}

func (s *PGStore) FindAccountByTransaction(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	const q = `
        SELECT account_id
        FROM subscriptions
        WHERE transaction_id = $1 OR original_transaction_id = $1
        LIMIT 1
    `
	var accountID string
	err := s.pool.QueryRow(ctx, q, key).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find account by transaction: %w", err)
	}
	return accountID, nil
}

func (s *PGStore) ListAccounts(ctx context.Context) ([]string, error) {
	const q = `
        SELECT account_id FROM subscriptions
        UNION
        SELECT account_id FROM usage_stats
    `
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts rows: %w", err)
	}
	return ids, nil
}
