package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsacademy/ledger-engine/internal/model"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// settled returns a copy of p with one settled buy of qty sym at price, and
// the matching trade record.
func settled(p *model.Portfolio, sym string, qty, price float64, at time.Time) (*model.Portfolio, *model.Trade) {
	next := p.Clone()
	next.Version++
	next.Cash = next.Cash.Sub(d(qty).Mul(d(price)))
	h, ok := next.Holdings[sym]
	if !ok {
		h = model.Holding{Symbol: sym, HeldSince: at}
	}
	h.AvgBuyPrice = h.CostBasis().Add(d(qty).Mul(d(price))).Div(h.Quantity.Add(d(qty)))
	h.Quantity = h.Quantity.Add(d(qty))
	next.Holdings[sym] = h
	next.UpdatedAt = at
	return next, &model.Trade{
		ID:             "t-" + sym + "-" + decimal.NewFromInt(next.Version).String(),
		UserID:         p.UserID,
		Symbol:         sym,
		TradeType:      model.Buy,
		OrderType:      model.Market,
		Quantity:       d(qty),
		ExecutionPrice: d(price),
		Commission:     decimal.Zero,
		RealizedPnL:    decimal.Zero,
		Sequence:       next.Version,
		Timestamp:      at,
	}
}

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		p := model.NewPortfolio("alice", d(10000), t0)
		require.NoError(t, s.CreatePortfolio(ctx, p))

		got, err := s.GetPortfolio(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, got.Cash.Equal(d(10000)))
		assert.Equal(t, int64(0), got.Version)
		assert.Empty(t, got.Holdings)

		err = s.CreatePortfolio(ctx, p)
		assert.True(t, errors.Is(err, ErrExists), "got %v", err)

		_, err = s.GetPortfolio(ctx, "nobody")
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("commit settlement", func(t *testing.T) {
		s := newStore(t)
		p := model.NewPortfolio("bob", d(10000), t0)
		require.NoError(t, s.CreatePortfolio(ctx, p))

		next, trade := settled(p, "AAPL", 10, 150, t0.Add(time.Minute))
		require.NoError(t, s.CommitSettlement(ctx, next, trade))

		got, err := s.GetPortfolio(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.True(t, got.Cash.Equal(d(8500)), "cash = %s", got.Cash)
		h := got.Holdings["AAPL"]
		assert.True(t, h.Quantity.Equal(d(10)))
		assert.True(t, h.AvgBuyPrice.Equal(d(150)))
		assert.True(t, h.HeldSince.Equal(t0.Add(time.Minute)))

		trades, err := s.ListTrades(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, int64(1), trades[0].Sequence)
		assert.True(t, trades[0].ExecutionPrice.Equal(d(150)))
	})

	t.Run("stale snapshot writes nothing", func(t *testing.T) {
		s := newStore(t)
		p := model.NewPortfolio("carol", d(10000), t0)
		require.NoError(t, s.CreatePortfolio(ctx, p))

		first, tr1 := settled(p, "AAPL", 1, 100, t0)
		second, tr2 := settled(p, "MSFT", 1, 200, t0)
		tr2.ID = "t-other"
		require.NoError(t, s.CommitSettlement(ctx, first, tr1))

		err := s.CommitSettlement(ctx, second, tr2)
		assert.True(t, errors.Is(err, ErrStaleSnapshot), "got %v", err)

		got, _ := s.GetPortfolio(ctx, "carol")
		_, hasMSFT := got.Holdings["MSFT"]
		assert.False(t, hasMSFT)
		trades, _ := s.ListTrades(ctx, "carol")
		assert.Len(t, trades, 1)
	})

	t.Run("sold out holding removed", func(t *testing.T) {
		s := newStore(t)
		p := model.NewPortfolio("dave", d(10000), t0)
		require.NoError(t, s.CreatePortfolio(ctx, p))
		bought, tr1 := settled(p, "AAPL", 2, 100, t0)
		require.NoError(t, s.CommitSettlement(ctx, bought, tr1))

		sold := bought.Clone()
		sold.Version++
		sold.Cash = sold.Cash.Add(d(200))
		delete(sold.Holdings, "AAPL")
		tr2 := *tr1
		tr2.ID = "t-sell"
		tr2.TradeType = model.Sell
		tr2.Sequence = sold.Version
		require.NoError(t, s.CommitSettlement(ctx, sold, &tr2))

		got, _ := s.GetPortfolio(ctx, "dave")
		assert.Empty(t, got.Holdings)
		assert.True(t, got.Cash.Equal(d(10000)))
		trades, _ := s.ListTrades(ctx, "dave")
		require.Len(t, trades, 2)
		assert.Equal(t, model.Buy, trades[0].TradeType)
		assert.Equal(t, model.Sell, trades[1].TradeType)
	})

	t.Run("mark awarded once", func(t *testing.T) {
		s := newStore(t)
		first, err := s.MarkAwarded(ctx, "erin", model.KindHeldNDays, t0)
		require.NoError(t, err)
		assert.True(t, first)

		again, err := s.MarkAwarded(ctx, "erin", model.KindHeldNDays, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, again)

		states, err := s.GetAchievements(ctx, "erin")
		require.NoError(t, err)
		require.Len(t, states, 1)
		assert.Equal(t, model.Awarded, states[0].Status)
		require.NotNil(t, states[0].AwardedAt)
		assert.True(t, states[0].AwardedAt.Equal(t0), "award time must not move")
	})

	t.Run("concurrent mark awarded", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.MarkAwarded(ctx, "frank", model.KindProfitThreshold, t0)
				if err == nil && ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("issuance tracking", func(t *testing.T) {
		s := newStore(t)
		_, err := s.MarkAwarded(ctx, "gina", model.KindHeldNDays, t0)
		require.NoError(t, err)
		_, err = s.MarkAwarded(ctx, "gina", model.KindProfitThreshold, t0)
		require.NoError(t, err)

		pending, err := s.PendingIssuance(ctx)
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		require.NoError(t, s.RecordIssuance(ctx, "gina", model.KindHeldNDays, "ref-1", t0.Add(time.Second)))
		pending, err = s.PendingIssuance(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, model.KindProfitThreshold, pending[0].Kind)

		err = s.RecordIssuance(ctx, "nobody", model.KindHeldNDays, "ref-x", t0)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

		states, _ := s.GetAchievements(ctx, "gina")
		for _, a := range states {
			if a.Kind == model.KindHeldNDays {
				assert.Equal(t, "ref-1", a.IssuanceRef)
				assert.True(t, a.Issued())
			}
		}
	})

	t.Run("list portfolios", func(t *testing.T) {
		s := newStore(t)
		for _, uid := range []string{"zed", "amy"} {
			require.NoError(t, s.CreatePortfolio(ctx, model.NewPortfolio(uid, d(500), t0)))
		}
		all, err := s.ListPortfolios(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "amy", all[0].UserID)
		assert.Equal(t, "zed", all[1].UserID)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := model.NewPortfolio("alice", d(100), t0)
	if err := s.CreatePortfolio(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Cash = d(1)

	got, _ := s.GetPortfolio(ctx, "alice")
	got.Holdings["X"] = model.Holding{Symbol: "X"}

	again, _ := s.GetPortfolio(ctx, "alice")
	if !again.Cash.Equal(d(100)) {
		t.Errorf("cash = %s, want 100", again.Cash)
	}
	if len(again.Holdings) != 0 {
		t.Errorf("holdings leaked: %v", again.Holdings)
	}
}
