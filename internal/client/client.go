// Package client is a small Go client for the ledger engine HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/ledger"
	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/trade"
	"github.com/wsacademy/ledger-engine/internal/valuation"
)

// APIError is a non-2xx response. Reason is set for order rejections.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Reason  string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Reason, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Client calls a ledger engine at BaseURL, e.g. http://localhost:8080.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client with a bounded request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// OpenPortfolio creates a portfolio. A zero-valued cash uses the server default.
func (c *Client) OpenPortfolio(ctx context.Context, userID string, cash decimal.NullDecimal) (*model.Portfolio, error) {
	var p model.Portfolio
	err := c.do(ctx, http.MethodPost, "/api/v1/portfolios", trade.CreatePortfolioRequest{UserID: userID, Cash: cash}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SubmitOrder settles one order.
func (c *Client) SubmitOrder(ctx context.Context, o ledger.Order) (*trade.OrderResponse, error) {
	var resp trade.OrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", o, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Portfolio returns a portfolio with its valuation.
func (c *Client) Portfolio(ctx context.Context, userID string) (*trade.PortfolioResponse, error) {
	var resp trade.PortfolioResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/portfolios/"+url.PathEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Trades returns a user's trades, most recent first.
func (c *Client) Trades(ctx context.Context, userID string) ([]model.Trade, error) {
	var trades []model.Trade
	err := c.do(ctx, http.MethodGet, "/api/v1/portfolios/"+url.PathEscape(userID)+"/trades", nil, &trades)
	return trades, err
}

// Achievements returns a user's achievement states.
func (c *Client) Achievements(ctx context.Context, userID string) ([]model.AchievementState, error) {
	var states []model.AchievementState
	err := c.do(ctx, http.MethodGet, "/api/v1/portfolios/"+url.PathEscape(userID)+"/achievements", nil, &states)
	return states, err
}

// Leaderboard returns the top limit users by total value.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]valuation.LeaderboardEntry, error) {
	var entries []valuation.LeaderboardEntry
	err := c.do(ctx, http.MethodGet, "/api/v1/leaderboard?limit="+strconv.Itoa(limit), nil, &entries)
	return entries, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
