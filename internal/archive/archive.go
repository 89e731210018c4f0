package archive

import (
	"context"

	"studybuddy/internal/model"
)

// Archiver stores raw purchase payloads for audit. Archiving is best-effort:
// failures are logged by the caller and never affect verification.
type Archiver interface {
	Archive(ctx context.Context, accountID string, ev model.PurchaseEvent) error
}

// Noop discards payloads; used when no archive bucket is configured.
type Noop struct{}

func (Noop) Archive(ctx context.Context, accountID string, ev model.PurchaseEvent) error {
	return nil
}
