package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsacademy/ledger-engine/internal/client"
	"github.com/wsacademy/ledger-engine/internal/ledger"
	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/quote"
	"github.com/wsacademy/ledger-engine/internal/store"
	"github.com/wsacademy/ledger-engine/internal/trade"
)

func newServer(t *testing.T) *client.Client {
	t.Helper()
	prices := quote.NewStaticSource(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(160)})
	svc := trade.NewService(store.NewMemoryStore(), prices, nil, nil, trade.Options{DefaultCash: decimal.NewFromInt(10000)})

	r := chi.NewRouter()
	r.Post("/api/v1/portfolios", svc.CreatePortfolio)
	r.Post("/api/v1/orders", svc.SubmitOrder)
	r.Get("/api/v1/portfolios/{userID}", svc.GetPortfolio)
	r.Get("/api/v1/portfolios/{userID}/trades", svc.GetTrades)
	r.Get("/api/v1/portfolios/{userID}/achievements", svc.GetAchievements)
	r.Get("/api/v1/leaderboard", svc.Leaderboard)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return client.New(srv.URL + "/")
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newServer(t)

	p, err := c.OpenPortfolio(ctx, "alice", decimal.NullDecimal{})
	require.NoError(t, err)
	assert.True(t, p.Cash.Equal(decimal.NewFromInt(10000)))

	resp, err := c.SubmitOrder(ctx, ledger.Order{
		UserID:         "alice",
		Symbol:         "AAPL",
		Quantity:       decimal.NewFromInt(10),
		TradeType:      model.Buy,
		ExecutionPrice: decimal.NewFromInt(150),
	})
	require.NoError(t, err)
	assert.Equal(t, "8500", resp.Portfolio.Cash.String())

	pr, err := c.Portfolio(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "100", pr.Valuation.TotalProfit.String())

	trades, err := c.Trades(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, trades, 1)

	board, err := c.Leaderboard(ctx, 5)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, "alice", board[0].UserID)
}

func TestClient_Rejection(t *testing.T) {
	ctx := context.Background()
	c := newServer(t)
	_, err := c.OpenPortfolio(ctx, "bob", decimal.NewNullDecimal(decimal.NewFromInt(1000)))
	require.NoError(t, err)

	_, err = c.SubmitOrder(ctx, ledger.Order{
		UserID:         "bob",
		Symbol:         "AAPL",
		Quantity:       decimal.NewFromInt(10),
		TradeType:      model.Buy,
		ExecutionPrice: decimal.NewFromInt(150),
	})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, 409, apiErr.Status)
	assert.Equal(t, ledger.ReasonInsufficientFunds, apiErr.Reason)

	_, err = c.Portfolio(ctx, "nobody")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.Status)
}
