package achievement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wsacademy/ledger-engine/internal/award"
	"github.com/wsacademy/ledger-engine/internal/store"
)

// Scheduler periodically re-evaluates every portfolio, since held-n-days
// can become true with no settlement at all, and re-emits awards whose
// issuance was never confirmed.
type Scheduler struct {
	store    store.Store
	eval     *Evaluator
	emit     Emitter
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler ticking every interval (one minute if
// interval is not positive).
func NewScheduler(st store.Store, eval *Evaluator, emit Emitter, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:    st,
		eval:     eval,
		emit:     emit,
		interval: interval,
		now:      time.Now,
	}
}

// Run calls RunOnce immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("achievement re-check failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce evaluates all portfolios and re-emits pending issuances.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	portfolios, err := s.store.ListPortfolios(ctx)
	if err != nil {
		return fmt.Errorf("list portfolios: %w", err)
	}

	var errs []error
	now := s.now()
	for _, p := range portfolios {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.eval.Evaluate(ctx, p, now); err != nil {
			errs = append(errs, err)
		}
	}

	pending, err := s.store.PendingIssuance(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list pending issuance: %w", err))
		return errors.Join(errs...)
	}
	for _, a := range pending {
		ev := award.Event{UserID: a.UserID, Kind: a.Kind}
		if a.AwardedAt != nil {
			ev.AwardedAt = *a.AwardedAt
		}
		s.emit.Enqueue(ev)
	}

	if len(portfolios) > 0 || len(pending) > 0 {
		slog.Debug("achievement re-check complete", "portfolios", len(portfolios), "pending_issuance", len(pending))
	}
	return errors.Join(errs...)
}
