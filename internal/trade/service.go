// Package trade provides the HTTP handlers and settlement orchestration for
// opening portfolios, submitting orders, and reading portfolios, trade
// history, achievements and the leaderboard.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/achievement"
	"github.com/wsacademy/ledger-engine/internal/ledger"
	"github.com/wsacademy/ledger-engine/internal/metrics"
	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/store"
	"github.com/wsacademy/ledger-engine/internal/valuation"
)

// ReasonConcurrentModification is reported when a settlement kept losing
// the race against other writers for the same portfolio.
const ReasonConcurrentModification = "concurrent_modification"

// Options configures a Service.
type Options struct {
	DefaultCash decimal.Decimal // opening balance when a request names none
	Currency    string          // ISO code for display strings
	MaxRetries  int             // settlement retries after a stale snapshot
}

// Service settles orders against the ledger store. Settlements for one user
// are serialized by a per-user lock; different users proceed in parallel.
// The store's version check catches writers on other instances.
type Service struct {
	store  store.Store
	prices valuation.PriceLookup
	eval   *achievement.Evaluator // optional; nil disables post-settlement evaluation
	wsHub  *WSHub                 // optional WebSocket hub for real-time broadcasts
	opts   Options
	locks  *keyedMutex

	pending sync.WaitGroup
	now     func() time.Time
}

// NewService creates a new trade service.
// Pass nil for eval or hub to disable achievement evaluation or broadcasting.
func NewService(st store.Store, prices valuation.PriceLookup, eval *achievement.Evaluator, hub *WSHub, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Service{
		store:  st,
		prices: prices,
		eval:   eval,
		wsHub:  hub,
		opts:   opts,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates and settles one order. On success the trade is durable
// and the returned portfolio is the post-settlement snapshot. Achievement
// evaluation is started afterwards and never delays the return.
func (s *Service) Submit(ctx context.Context, o ledger.Order) (*model.Trade, *model.Portfolio, error) {
	o, err := o.Normalize()
	if err != nil {
		metrics.OrderRejections.WithLabelValues(ledger.ReasonInvalidOrder).Inc()
		return nil, nil, err
	}

	start := time.Now()
	unlock := s.locks.Lock(o.UserID)
	next, tr, err := s.settle(ctx, o)
	unlock()
	if err != nil {
		if reason := ledger.Reason(err); reason != "" {
			metrics.OrderRejections.WithLabelValues(reason).Inc()
		}
		return nil, nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(tr.TradeType)).Inc()
	metrics.SettlementLatency.WithLabelValues(string(tr.TradeType)).Observe(time.Since(start).Seconds())

	slog.Info("trade settled",
		"trade_id", tr.ID,
		"user_id", tr.UserID,
		"symbol", tr.Symbol,
		"trade_type", tr.TradeType,
		"qty", tr.Quantity.String(),
		"price", tr.ExecutionPrice.String(),
		"commission", tr.Commission.String(),
		"realized_pnl", tr.RealizedPnL.String(),
		"cash", next.Cash.String(),
		"seq", tr.Sequence,
	)

	s.wsHub.Broadcast(WSMessage{
		Type:      MsgTradeSettled,
		UserID:    tr.UserID,
		Symbol:    tr.Symbol,
		TradeType: string(tr.TradeType),
		Quantity:  tr.Quantity.String(),
		Price:     tr.ExecutionPrice.String(),
		Cash:      next.Cash.String(),
		Sequence:  tr.Sequence,
	})

	s.evaluateAsync(next)
	return tr, next, nil
}

// settle runs read → validate → commit, re-reading after a stale snapshot.
// The caller holds the user's lock.
func (s *Service) settle(ctx context.Context, o ledger.Order) (*model.Portfolio, *model.Trade, error) {
	for attempt := 0; ; attempt++ {
		p, err := s.store.GetPortfolio(ctx, o.UserID)
		if err != nil {
			return nil, nil, err
		}

		next, tr, err := ledger.Settle(p, o, s.now())
		if err != nil {
			return nil, nil, err
		}

		err = s.store.CommitSettlement(ctx, next, tr)
		if err == nil {
			return next, tr, nil
		}
		if !errors.Is(err, store.ErrStaleSnapshot) || attempt >= s.opts.MaxRetries {
			return nil, nil, err
		}
		metrics.StaleSnapshotRetries.Inc()
		slog.Warn("stale portfolio snapshot, retrying settlement", "user_id", o.UserID, "attempt", attempt+1)
	}
}

// evaluateAsync checks achievements against the committed snapshot in the
// background, detached from the request context.
func (s *Service) evaluateAsync(p *model.Portfolio) {
	if s.eval == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.eval.Evaluate(ctx, p, s.now()); err != nil {
			slog.Error("post-settlement achievement evaluation failed", "user_id", p.UserID, "err", err)
		}
	}()
}

// Drain waits for background achievement evaluations to finish.
func (s *Service) Drain() {
	s.pending.Wait()
}

// --- Request/Response types ---

// CreatePortfolioRequest is the JSON body for POST /portfolios.
type CreatePortfolioRequest struct {
	UserID string              `json:"user_id"`
	Cash   decimal.NullDecimal `json:"cash"` // absent → configured default
}

// PortfolioSummary is the post-settlement state included in order responses.
type PortfolioSummary struct {
	UserID   string          `json:"user_id"`
	Cash     decimal.Decimal `json:"cash"`
	Holdings []model.Holding `json:"holdings"`
	Version  int64           `json:"version"`
}

// OrderResponse is the JSON body returned from POST /orders.
type OrderResponse struct {
	Trade     *model.Trade     `json:"trade"`
	Portfolio PortfolioSummary `json:"portfolio"`
}

// PortfolioResponse is the JSON body returned from GET /portfolios/{userID}.
type PortfolioResponse struct {
	Portfolio *model.Portfolio  `json:"portfolio"`
	Valuation *valuation.Report `json:"valuation"`
}

// EvaluateResponse lists the kinds awarded by an on-demand evaluation.
type EvaluateResponse struct {
	UserID  string                  `json:"user_id"`
	Awarded []model.AchievementKind `json:"awarded"`
}

func summarize(p *model.Portfolio) PortfolioSummary {
	holdings := make([]model.Holding, 0, len(p.Holdings))
	for _, sym := range p.Symbols() {
		holdings = append(holdings, p.Holdings[sym])
	}
	return PortfolioSummary{UserID: p.UserID, Cash: p.Cash, Holdings: holdings, Version: p.Version}
}

// --- HTTP Handlers ---

// CreatePortfolio handles POST /api/v1/portfolios
func (s *Service) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	cash := s.opts.DefaultCash
	if req.Cash.Valid {
		cash = req.Cash.Decimal
	}
	if cash.IsNegative() {
		writeError(w, "cash must not be negative", http.StatusBadRequest)
		return
	}

	p := model.NewPortfolio(req.UserID, cash, s.now())
	if err := s.store.CreatePortfolio(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrExists) {
			writeError(w, "portfolio already exists for user: "+req.UserID, http.StatusConflict)
			return
		}
		slog.Error("create portfolio failed", "user_id", req.UserID, "err", err)
		writeError(w, "failed to create portfolio", http.StatusInternalServerError)
		return
	}

	slog.Info("portfolio opened", "user_id", p.UserID, "cash", cash.String())
	writeJSON(w, http.StatusCreated, p)
}

// SubmitOrder handles POST /api/v1/orders
// Settles the order at its execution price, or returns the rejection reason.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var o ledger.Order
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		writeRejection(w, fmt.Sprintf("invalid request body: %v", err), ledger.ReasonInvalidOrder, http.StatusBadRequest)
		return
	}

	tr, p, err := s.Submit(r.Context(), o)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, OrderResponse{Trade: tr, Portfolio: summarize(p)})
	case errors.Is(err, ledger.ErrInvalidOrder):
		writeRejection(w, err.Error(), ledger.ReasonInvalidOrder, http.StatusBadRequest)
	case ledger.IsRejection(err):
		writeRejection(w, err.Error(), ledger.Reason(err), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "portfolio not found for user: "+o.UserID, http.StatusNotFound)
	case errors.Is(err, store.ErrStaleSnapshot):
		writeRejection(w, "portfolio changed concurrently, retry the order", ReasonConcurrentModification, http.StatusConflict)
	default:
		slog.Error("settlement failed", "user_id", o.UserID, "err", err)
		writeError(w, "failed to settle order", http.StatusInternalServerError)
	}
}

// GetPortfolio handles GET /api/v1/portfolios/{userID}
// Returns the portfolio plus its valuation at current prices.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	p, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		s.writeLoadError(w, userID, err)
		return
	}

	report := valuation.Value(ctx, p, s.prices, s.now()).WithDisplay(s.opts.Currency)
	writeJSON(w, http.StatusOK, PortfolioResponse{Portfolio: p, Valuation: report})
}

// GetTrades handles GET /api/v1/portfolios/{userID}/trades
// Returns trades most-recent-first.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	trades, err := s.store.ListTrades(r.Context(), userID)
	if err != nil {
		slog.Error("list trades failed", "user_id", userID, "err", err)
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	out := make([]model.Trade, len(trades))
	for i, t := range trades {
		out[len(trades)-1-i] = t
	}
	writeJSON(w, http.StatusOK, out)
}

// GetAchievements handles GET /api/v1/portfolios/{userID}/achievements
// Every configured kind is listed; kinds never awarded show as not-met.
func (s *Service) GetAchievements(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	states, err := s.store.GetAchievements(r.Context(), userID)
	if err != nil {
		slog.Error("load achievements failed", "user_id", userID, "err", err)
		writeError(w, "failed to load achievements", http.StatusInternalServerError)
		return
	}

	byKind := make(map[model.AchievementKind]model.AchievementState, len(states))
	for _, a := range states {
		byKind[a.Kind] = a
	}
	out := make([]model.AchievementState, 0, len(states))
	if s.eval != nil {
		for _, kind := range s.eval.Kinds() {
			a, ok := byKind[kind]
			if !ok {
				a = model.AchievementState{UserID: userID, Kind: kind, Status: model.NotMet}
			}
			out = append(out, a)
			delete(byKind, kind)
		}
	}
	// Kinds awarded under an earlier configuration stay visible.
	for _, a := range states {
		if _, ok := byKind[a.Kind]; ok {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// EvaluateAchievements handles POST /api/v1/portfolios/{userID}/achievements/evaluate
// Runs an on-demand evaluation and returns the newly awarded kinds.
func (s *Service) EvaluateAchievements(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	if s.eval == nil {
		writeError(w, "achievement evaluation is disabled", http.StatusServiceUnavailable)
		return
	}
	p, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		s.writeLoadError(w, userID, err)
		return
	}

	awarded, err := s.eval.Evaluate(ctx, p, s.now())
	if err != nil {
		slog.Error("achievement evaluation failed", "user_id", userID, "err", err)
		writeError(w, "achievement evaluation failed", http.StatusInternalServerError)
		return
	}
	if awarded == nil {
		awarded = []model.AchievementKind{}
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{UserID: userID, Awarded: awarded})
}

// Leaderboard handles GET /api/v1/leaderboard?limit=N
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := valuation.DefaultLeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ctx := r.Context()
	portfolios, err := s.store.ListPortfolios(ctx)
	if err != nil {
		slog.Error("list portfolios failed", "err", err)
		writeError(w, "failed to load portfolios", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, valuation.Leaderboard(ctx, portfolios, s.prices, limit, s.now()))
}

func (s *Service) writeLoadError(w http.ResponseWriter, userID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "portfolio not found for user: "+userID, http.StatusNotFound)
		return
	}
	slog.Error("load portfolio failed", "user_id", userID, "err", err)
	writeError(w, "failed to load portfolio", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeRejection writes a JSON error response carrying a machine reason.
func writeRejection(w http.ResponseWriter, message, reason string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "reason": reason})
}
