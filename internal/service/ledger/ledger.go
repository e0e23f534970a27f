// Package ledger keeps the per-user usage counter that is compared against
// the credit limit.
package ledger

import (
	"context"
	"errors"

	"cvtriage/internal/storage"

	"go.uber.org/zap"
)

// Store is the subset of the row-store the ledger needs.
type Store interface {
	IncrementUsage(ctx context.Context, id string) (int, error)
	UsageCount(ctx context.Context, id string) (int, error)
	SetUsageCount(ctx context.Context, id string, count int) error
}

// Ledger increments usage counters.
type Ledger struct {
	store  Store
	logger *zap.Logger
}

// New constructs a Ledger.
func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

// Increment adds exactly one use and returns the resulting count.
//
// The server-side procedure is used when available. Otherwise the counter is
// read, written back plus one and re-read; two concurrent fallback calls can
// lose an update. A failed fallback write returns the count read before the
// attempt so usage is never over-reported.
func (l *Ledger) Increment(ctx context.Context, userID string) (int, error) {
	count, err := l.store.IncrementUsage(ctx, userID)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, storage.ErrProcedureUnavailable) {
		return 0, err
	}

	log := l.logger.With(zap.String("user_id", userID))
	log.Debug("atomic increment unavailable, using read-modify-write")

	current, err := l.Current(ctx, userID)
	if err != nil {
		return 0, err
	}

	next := current + 1
	if err := l.store.SetUsageCount(ctx, userID, next); err != nil {
		log.Warn("usage write failed, keeping previous count", zap.Int("count", current), zap.Error(err))
		return current, nil
	}

	confirmed, err := l.store.UsageCount(ctx, userID)
	if err != nil {
		log.Warn("usage confirmation read failed", zap.Error(err))
		return next, nil
	}
	if confirmed != next {
		log.Warn("usage confirmation mismatch", zap.Int("written", next), zap.Int("read", confirmed))
	}
	return confirmed, nil
}

// Current reads the stored usage count; a missing profile counts as zero.
func (l *Ledger) Current(ctx context.Context, userID string) (int, error) {
	count, err := l.store.UsageCount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	return count, err
}
