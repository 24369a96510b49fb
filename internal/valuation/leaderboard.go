package valuation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/model"
)

// DefaultLeaderboardSize is the number of entries shown when no limit is given.
const DefaultLeaderboardSize = 10

// LeaderboardEntry ranks one user by total account value.
type LeaderboardEntry struct {
	Rank          int             `json:"rank"`
	UserID        string          `json:"user_id"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Cash          decimal.Decimal `json:"cash"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	Complete      bool            `json:"complete"`
}

// Leaderboard values every portfolio and returns the top limit entries by
// total value, ties broken by user ID. Holdings without a price contribute
// nothing, and the entry is marked incomplete.
func Leaderboard(ctx context.Context, portfolios []*model.Portfolio, prices PriceLookup, limit int, now time.Time) []LeaderboardEntry {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}

	// Quotes are shared between users, so look each symbol up once.
	memo := &memoLookup{inner: prices, seen: make(map[string]memoEntry)}

	entries := make([]LeaderboardEntry, 0, len(portfolios))
	for _, p := range portfolios {
		r := Value(ctx, p, memo, now)
		entries = append(entries, LeaderboardEntry{
			UserID:        p.UserID,
			TotalValue:    r.TotalValue,
			Cash:          r.Cash,
			HoldingsValue: r.TotalMarketValue,
			TotalProfit:   r.TotalProfit,
			Complete:      r.Complete,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].TotalValue.Cmp(entries[j].TotalValue); c != 0 {
			return c > 0
		}
		return entries[i].UserID < entries[j].UserID
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

type memoEntry struct {
	price decimal.Decimal
	err   error
}

// memoLookup caches lookups for the duration of one leaderboard build.
type memoLookup struct {
	inner PriceLookup
	seen  map[string]memoEntry
}

func (m *memoLookup) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if e, ok := m.seen[symbol]; ok {
		return e.price, e.err
	}
	p, err := m.inner.Price(ctx, symbol)
	m.seen[symbol] = memoEntry{price: p, err: err}
	return p, err
}
