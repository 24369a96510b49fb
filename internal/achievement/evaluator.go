package achievement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wsacademy/ledger-engine/internal/award"
	"github.com/wsacademy/ledger-engine/internal/metrics"
	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/store"
	"github.com/wsacademy/ledger-engine/internal/valuation"
)

// Emitter accepts award events for asynchronous issuance. It must not block.
// award.Dispatcher satisfies it.
type Emitter interface {
	Enqueue(ev award.Event) bool
}

// Evaluator checks every configured condition for a portfolio and performs
// the not-met → awarded transition for those that hold.
type Evaluator struct {
	store      store.Store
	prices     valuation.PriceLookup
	emit       Emitter
	conditions []Condition

	// OnAward, if set, is called once per transition after the event is
	// emitted.
	OnAward func(ev award.Event)
}

// NewEvaluator creates an evaluator over the given conditions.
func NewEvaluator(st store.Store, prices valuation.PriceLookup, emit Emitter, conditions ...Condition) *Evaluator {
	return &Evaluator{
		store:      st,
		prices:     prices,
		emit:       emit,
		conditions: conditions,
	}
}

// Kinds returns the configured achievement kinds in evaluation order.
func (e *Evaluator) Kinds() []model.AchievementKind {
	kinds := make([]model.AchievementKind, len(e.conditions))
	for i, c := range e.conditions {
		kinds[i] = c.Kind()
	}
	return kinds
}

// Evaluate checks p at time now and returns the kinds newly awarded by this
// call. Already-awarded kinds are skipped without evaluating their condition.
// A failing condition or store write is reported but does not stop the
// remaining kinds.
func (e *Evaluator) Evaluate(ctx context.Context, p *model.Portfolio, now time.Time) ([]model.AchievementKind, error) {
	states, err := e.store.GetAchievements(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load achievements for %s: %w", p.UserID, err)
	}
	awarded := make(map[model.AchievementKind]bool, len(states))
	for _, st := range states {
		if st.Status == model.Awarded {
			awarded[st.Kind] = true
		}
	}

	snap := &Snapshot{Portfolio: p, Now: now, prices: e.prices}
	var newly []model.AchievementKind
	var errs []error

	for _, c := range e.conditions {
		kind := c.Kind()
		if awarded[kind] {
			continue
		}

		met, err := c.Met(ctx, snap)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluate %s for %s: %w", kind, p.UserID, err))
			continue
		}
		if !met {
			continue
		}

		won, err := e.store.MarkAwarded(ctx, p.UserID, kind, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !won {
			// Another evaluation made the transition first.
			continue
		}

		metrics.AwardsTotal.WithLabelValues(string(kind)).Inc()
		slog.Info("achievement awarded", "user_id", p.UserID, "kind", kind)

		ev := award.Event{UserID: p.UserID, Kind: kind, AwardedAt: now}
		if !e.emit.Enqueue(ev) {
			slog.Warn("award event not queued, left pending", "user_id", p.UserID, "kind", kind)
		}
		if e.OnAward != nil {
			e.OnAward(ev)
		}
		newly = append(newly, kind)
	}

	return newly, errors.Join(errs...)
}
