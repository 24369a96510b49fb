package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/achievement"
	"github.com/wsacademy/ledger-engine/internal/award"
	"github.com/wsacademy/ledger-engine/internal/ledger"
	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/quote"
	"github.com/wsacademy/ledger-engine/internal/store"
	"github.com/wsacademy/ledger-engine/internal/trade"
	"github.com/wsacademy/ledger-engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type countingEmitter struct {
	mu     sync.Mutex
	events []award.Event
}

func (c *countingEmitter) Enqueue(ev award.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

type testEnv struct {
	svc    *trade.Service
	store  store.Store
	prices *quote.StaticSource
	emit   *countingEmitter
	router chi.Router
}

// newTestEnv creates a test Service with an in-memory store, static prices
// and a chi router carrying the production routes.
func newTestEnv(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	prices := quote.NewStaticSource(map[string]decimal.Decimal{"AAPL": d(160), "MSFT": d(300)})
	emit := &countingEmitter{}
	eval := achievement.NewEvaluator(st, prices, emit,
		achievement.HeldNDays{Days: 10},
		achievement.ProfitThreshold{Threshold: decimal.Zero},
	)
	svc := trade.NewService(st, prices, eval, nil, trade.Options{
		DefaultCash: d(10000),
		Currency:    "USD",
		MaxRetries:  3,
	})
	t.Cleanup(svc.Drain)

	r := chi.NewRouter()
	r.Post("/api/v1/portfolios", svc.CreatePortfolio)
	r.Post("/api/v1/orders", svc.SubmitOrder)
	r.Get("/api/v1/portfolios/{userID}", svc.GetPortfolio)
	r.Get("/api/v1/portfolios/{userID}/trades", svc.GetTrades)
	r.Get("/api/v1/portfolios/{userID}/achievements", svc.GetAchievements)
	r.Post("/api/v1/portfolios/{userID}/achievements/evaluate", svc.EvaluateAchievements)
	r.Get("/api/v1/leaderboard", svc.Leaderboard)

	return &testEnv{svc: svc, store: st, prices: prices, emit: emit, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) open(t *testing.T, userID string, cash float64) {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/portfolios", map[string]any{"user_id": userID, "cash": cash})
	if w.Code != http.StatusCreated {
		t.Fatalf("open portfolio: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func order(userID, side, sym string, qty, price float64) ledger.Order {
	return ledger.Order{
		UserID:         userID,
		Symbol:         sym,
		Quantity:       d(qty),
		TradeType:      model.TradeType(side),
		ExecutionPrice: d(price),
	}
}

func (e *testEnv) submit(t *testing.T, o ledger.Order) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, "POST", "/api/v1/orders", o)
}

// --- Portfolio creation ---

func TestCreatePortfolio_DefaultCash(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/v1/portfolios", `{"user_id":"alice"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p model.Portfolio
	json.Unmarshal(w.Body.Bytes(), &p)
	if !p.Cash.Equal(d(10000)) {
		t.Errorf("expected default cash 10000, got %s", p.Cash)
	}

	w = env.do(t, "POST", "/api/v1/portfolios", `{"user_id":"alice"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate portfolio, got %d", w.Code)
	}
}

func TestCreatePortfolio_Invalid(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{`{"cash":5}`, `{"user_id":"bob","cash":-1}`, `not json`} {
		w := env.do(t, "POST", "/api/v1/portfolios", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

// --- Order settlement ---

func TestSubmitOrder_ExampleScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "alice", 100000)

	if w := env.submit(t, order("alice", "buy", "AAPL", 10, 150)); w.Code != http.StatusOK {
		t.Fatalf("buy 1: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.submit(t, order("alice", "buy", "aapl", 5, 170)); w.Code != http.StatusOK {
		t.Fatalf("buy 2: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w := env.submit(t, order("alice", "sell", "AAPL", 15, 160))
	if w.Code != http.StatusOK {
		t.Fatalf("sell: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.OrderResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Portfolio.Cash.Equal(d(100050)) {
		t.Errorf("expected cash 100050, got %s", resp.Portfolio.Cash)
	}
	if len(resp.Portfolio.Holdings) != 0 {
		t.Errorf("expected no holdings after full close, got %v", resp.Portfolio.Holdings)
	}
	if got := resp.Trade.RealizedPnL.Round(2); !got.Equal(d(50)) {
		t.Errorf("expected realized pnl 50.00, got %s", got)
	}
	if resp.Trade.Sequence != 3 || resp.Portfolio.Version != 3 {
		t.Errorf("expected sequence/version 3, got %d/%d", resp.Trade.Sequence, resp.Portfolio.Version)
	}
}

func TestSubmitOrder_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "bob", 1000)

	w := env.submit(t, order("bob", "buy", "AAPL", 10, 150))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["reason"] != ledger.ReasonInsufficientFunds {
		t.Errorf("expected reason insufficient_funds, got %q", body["reason"])
	}

	p, _ := env.store.GetPortfolio(context.Background(), "bob")
	if !p.Cash.Equal(d(1000)) || p.Version != 0 {
		t.Errorf("rejected order mutated portfolio: cash=%s version=%d", p.Cash, p.Version)
	}
	trades, _ := env.store.ListTrades(context.Background(), "bob")
	if len(trades) != 0 {
		t.Errorf("rejected order must not appear in history, got %d trades", len(trades))
	}
}

func TestSubmitOrder_SellRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "carol", 10000)
	env.submit(t, order("carol", "buy", "AAPL", 5, 100))

	cases := []struct {
		name   string
		order  ledger.Order
		reason string
	}{
		{"unknown position", order("carol", "sell", "MSFT", 1, 300), ledger.ReasonUnknownPosition},
		{"oversell", order("carol", "sell", "AAPL", 6, 100), ledger.ReasonInsufficientPosition},
	}
	for _, tc := range cases {
		w := env.submit(t, tc.order)
		if w.Code != http.StatusConflict {
			t.Errorf("%s: expected 409, got %d", tc.name, w.Code)
			continue
		}
		var body map[string]string
		json.Unmarshal(w.Body.Bytes(), &body)
		if body["reason"] != tc.reason {
			t.Errorf("%s: expected reason %s, got %q", tc.name, tc.reason, body["reason"])
		}
	}
}

func TestSubmitOrder_Malformed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "dave", 10000)

	cases := map[string]string{
		"bad json":      `{"user_id":`,
		"unknown field": `{"user_id":"dave","symbol":"AAPL","quantity":"1","trade_type":"buy","execution_price":"1","leverage":5}`,
		"zero quantity": `{"user_id":"dave","symbol":"AAPL","quantity":"0","trade_type":"buy","execution_price":"1"}`,
		"bad side":      `{"user_id":"dave","symbol":"AAPL","quantity":"1","trade_type":"short","execution_price":"1"}`,
		"bad symbol":    `{"user_id":"dave","symbol":"A APL","quantity":"1","trade_type":"buy","execution_price":"1"}`,
	}
	for name, body := range cases {
		w := env.do(t, "POST", "/api/v1/orders", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, w.Code, w.Body.String())
		}
	}
}

func TestSubmitOrder_NoPortfolio(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.submit(t, order("ghost", "buy", "AAPL", 1, 1))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitOrder_ConcurrentSameUser(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "erin", 10000)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := env.svc.Submit(context.Background(), order("erin", "buy", "AAPL", 1, 10)); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()

	p, _ := env.store.GetPortfolio(context.Background(), "erin")
	if !p.Cash.Equal(d(9500)) {
		t.Errorf("expected cash 9500, got %s", p.Cash)
	}
	if !p.Holdings["AAPL"].Quantity.Equal(d(n)) {
		t.Errorf("expected %d AAPL, got %s", n, p.Holdings["AAPL"].Quantity)
	}
	trades, _ := env.store.ListTrades(context.Background(), "erin")
	if len(trades) != n {
		t.Fatalf("expected %d trades, got %d", n, len(trades))
	}
	for i, tr := range trades {
		if tr.Sequence != int64(i+1) {
			t.Fatalf("trade %d has sequence %d; history must follow settlement order", i, tr.Sequence)
		}
	}
}

// staleStore fails the first n commits as if another instance won the race.
type staleStore struct {
	store.Store
	mu    sync.Mutex
	fails int
}

func (s *staleStore) CommitSettlement(ctx context.Context, p *model.Portfolio, tr *model.Trade) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return fmt.Errorf("%w: injected", store.ErrStaleSnapshot)
	}
	s.mu.Unlock()
	return s.Store.CommitSettlement(ctx, p, tr)
}

func TestSubmitOrder_RetriesStaleSnapshot(t *testing.T) {
	st := &staleStore{Store: store.NewMemoryStore(), fails: 2}
	env := newTestEnv(t, st)
	env.open(t, "frank", 1000)

	if w := env.submit(t, order("frank", "buy", "MSFT", 1, 300)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after retries, got %d: %s", w.Code, w.Body.String())
	}
	trades, _ := st.ListTrades(context.Background(), "frank")
	if len(trades) != 1 {
		t.Errorf("expected exactly 1 trade, got %d", len(trades))
	}
}

func TestSubmitOrder_StaleSnapshotExhausted(t *testing.T) {
	st := &staleStore{Store: store.NewMemoryStore(), fails: 100}
	env := newTestEnv(t, st)
	env.open(t, "gina", 1000)

	w := env.submit(t, order("gina", "buy", "MSFT", 1, 300))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["reason"] != trade.ReasonConcurrentModification {
		t.Errorf("expected reason %s, got %q", trade.ReasonConcurrentModification, body["reason"])
	}
	p, _ := st.GetPortfolio(context.Background(), "gina")
	if !p.Cash.Equal(d(1000)) {
		t.Errorf("unsettled order changed cash to %s", p.Cash)
	}
}

// --- Reads ---

func TestGetPortfolio_Valuation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "hana", 10000)
	env.submit(t, order("hana", "buy", "AAPL", 10, 150))
	env.submit(t, order("hana", "buy", "TSLA", 2, 100)) // no quote

	w := env.do(t, "GET", "/api/v1/portfolios/hana", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp trade.PortfolioResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	r := resp.Valuation
	if r == nil {
		t.Fatal("missing valuation")
	}
	if !r.TotalMarketValue.Equal(d(1600)) {
		t.Errorf("expected market value 1600, got %s", r.TotalMarketValue)
	}
	if !r.TotalProfit.Equal(d(100)) {
		t.Errorf("expected profit 100, got %s", r.TotalProfit)
	}
	if r.Complete || len(r.Unavailable) != 1 || r.Unavailable[0] != "TSLA" {
		t.Errorf("expected TSLA unavailable, got complete=%v unavailable=%v", r.Complete, r.Unavailable)
	}
	if r.Display == nil || r.Display.TotalValue != "$9,900.00" {
		t.Errorf("unexpected display: %+v", r.Display)
	}
}

func TestGetPortfolio_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, "GET", "/api/v1/portfolios/nobody", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetTrades_MostRecentFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "ivan", 10000)
	env.submit(t, order("ivan", "buy", "AAPL", 1, 100))
	env.submit(t, order("ivan", "buy", "MSFT", 1, 200))
	env.submit(t, order("ivan", "sell", "AAPL", 1, 110))

	w := env.do(t, "GET", "/api/v1/portfolios/ivan/trades", nil)
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	for i, want := range []int64{3, 2, 1} {
		if trades[i].Sequence != want {
			t.Errorf("position %d: expected sequence %d, got %d", i, want, trades[i].Sequence)
		}
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "low", 100)
	env.open(t, "high", 5000)
	env.open(t, "mid", 1000)
	env.submit(t, order("mid", "buy", "MSFT", 3, 100)) // 700 cash + 900 value

	w := env.do(t, "GET", "/api/v1/leaderboard?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []valuation.LeaderboardEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID != "high" || entries[1].UserID != "mid" {
		t.Errorf("unexpected order: %s, %s", entries[0].UserID, entries[1].UserID)
	}
	if !entries[1].TotalValue.Equal(d(1600)) {
		t.Errorf("expected mid total 1600, got %s", entries[1].TotalValue)
	}

	if w := env.do(t, "GET", "/api/v1/leaderboard?limit=zero", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

// --- Achievements ---

func TestAchievements_AwardedAfterSettlement(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "jane", 10000)
	env.submit(t, order("jane", "buy", "AAPL", 10, 150)) // quoted at 160
	env.svc.Drain()

	w := env.do(t, "GET", "/api/v1/portfolios/jane/achievements", nil)
	var states []model.AchievementState
	json.Unmarshal(w.Body.Bytes(), &states)
	if len(states) != 2 {
		t.Fatalf("expected both kinds listed, got %d", len(states))
	}
	for _, a := range states {
		switch a.Kind {
		case model.KindProfitThreshold:
			if a.Status != model.Awarded {
				t.Errorf("expected profit-threshold awarded, got %s", a.Status)
			}
		case model.KindHeldNDays:
			if a.Status != model.NotMet {
				t.Errorf("expected held-n-days not-met, got %s", a.Status)
			}
		}
	}

	// Another settlement and an explicit evaluation award nothing new.
	env.submit(t, order("jane", "buy", "AAPL", 1, 150))
	env.svc.Drain()
	w = env.do(t, "POST", "/api/v1/portfolios/jane/achievements/evaluate", nil)
	var eval trade.EvaluateResponse
	json.Unmarshal(w.Body.Bytes(), &eval)
	if len(eval.Awarded) != 0 {
		t.Errorf("expected no new awards, got %v", eval.Awarded)
	}

	env.emit.mu.Lock()
	defer env.emit.mu.Unlock()
	if len(env.emit.events) != 1 {
		t.Errorf("expected exactly one award event, got %d", len(env.emit.events))
	}
}
