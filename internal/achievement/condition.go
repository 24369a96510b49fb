// Package achievement evaluates one-time milestone awards.
//
// Each (user, kind) pair is a one-way state machine: not-met → awarded.
// The transition is a conditional store write, so concurrent evaluations
// and re-evaluations after the condition flickers never award twice.
package achievement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/valuation"
)

// Condition decides whether an achievement kind is met for a snapshot.
type Condition interface {
	Kind() model.AchievementKind
	Met(ctx context.Context, s *Snapshot) (bool, error)
}

// Snapshot is the post-settlement state a condition is checked against.
// The valuation report is computed on first use and shared by all
// conditions of one evaluation.
type Snapshot struct {
	Portfolio *model.Portfolio
	Now       time.Time

	prices valuation.PriceLookup
	report *valuation.Report
}

// Report values the snapshot portfolio at current prices.
func (s *Snapshot) Report(ctx context.Context) *valuation.Report {
	if s.report == nil {
		s.report = valuation.Value(ctx, s.Portfolio, s.prices, s.Now)
	}
	return s.report
}

// HeldNDays is met when any holding has been held continuously for at
// least Days full days.
type HeldNDays struct {
	Days int
}

func (HeldNDays) Kind() model.AchievementKind { return model.KindHeldNDays }

func (c HeldNDays) Met(_ context.Context, s *Snapshot) (bool, error) {
	need := time.Duration(c.Days) * 24 * time.Hour
	for _, h := range s.Portfolio.Holdings {
		if h.Quantity.IsPositive() && s.Now.Sub(h.HeldSince) >= need {
			return true, nil
		}
	}
	return false, nil
}

// ProfitThreshold is met when total unrealized profit exceeds Threshold.
// A report with unpriced holdings never meets it.
type ProfitThreshold struct {
	Threshold decimal.Decimal
}

func (ProfitThreshold) Kind() model.AchievementKind { return model.KindProfitThreshold }

func (c ProfitThreshold) Met(ctx context.Context, s *Snapshot) (bool, error) {
	r := s.Report(ctx)
	if !r.Complete {
		return false, nil
	}
	return r.TotalProfit.GreaterThan(c.Threshold), nil
}
