// Package valuation computes derived, read-only views of a portfolio at
// current market prices: market value, unrealized P&L, allocation and
// aggregate totals.
//
// A missing quote for one symbol marks that holding unavailable and leaves
// it out of the priced totals; it never fails the whole report.
package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// PriceLookup returns the current price of a symbol or an error when none
// is available.
type PriceLookup interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// HoldingValuation is one holding marked to market. The price-derived fields
// are null when Available is false.
type HoldingValuation struct {
	Symbol           string              `json:"symbol"`
	Quantity         decimal.Decimal     `json:"quantity"`
	AvgBuyPrice      decimal.Decimal     `json:"avg_buy_price"`
	Invested         decimal.Decimal     `json:"invested"` // quantity * avg_buy_price
	HeldSince        time.Time           `json:"held_since"`
	Available        bool                `json:"available"`
	Error            string              `json:"error,omitempty"`
	CurrentPrice     decimal.NullDecimal `json:"current_price"`
	MarketValue      decimal.NullDecimal `json:"market_value"`
	UnrealizedPnL    decimal.NullDecimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.NullDecimal `json:"unrealized_pnl_pct"`
	Allocation       decimal.NullDecimal `json:"allocation"` // % of priced market value
}

// Report is the valuation of one portfolio at one point in time.
//
// TotalInvested, TotalMarketValue and TotalProfit cover priced holdings
// only, so TotalProfit = TotalMarketValue - TotalInvested always holds.
// The cost basis of unpriced holdings is reported in UnpricedCost.
type Report struct {
	UserID           string             `json:"user_id"`
	Cash             decimal.Decimal    `json:"cash"`
	Holdings         []HoldingValuation `json:"holdings"`
	TotalInvested    decimal.Decimal    `json:"total_invested"`
	TotalMarketValue decimal.Decimal    `json:"total_market_value"`
	TotalProfit      decimal.Decimal    `json:"total_profit"`
	TotalValue       decimal.Decimal    `json:"total_value"` // cash + total_market_value
	UnpricedCost     decimal.Decimal    `json:"unpriced_cost"`
	Unavailable      []string           `json:"unavailable"`
	Complete         bool               `json:"complete"` // every holding priced
	ValuedAt         time.Time          `json:"valued_at"`
	Display          *Display           `json:"display,omitempty"`
}

// Value marks every holding of p to market using prices. It never mutates p.
// Holdings are reported in symbol order.
func Value(ctx context.Context, p *model.Portfolio, prices PriceLookup, now time.Time) *Report {
	r := &Report{
		UserID:      p.UserID,
		Cash:        p.Cash,
		Holdings:    make([]HoldingValuation, 0, len(p.Holdings)),
		Unavailable: []string{},
		ValuedAt:    now,
	}

	for _, sym := range p.Symbols() {
		h := p.Holdings[sym]
		hv := HoldingValuation{
			Symbol:      h.Symbol,
			Quantity:    h.Quantity,
			AvgBuyPrice: h.AvgBuyPrice,
			Invested:    h.CostBasis(),
			HeldSince:   h.HeldSince,
		}

		price, err := prices.Price(ctx, sym)
		if err != nil || !price.IsPositive() {
			if err != nil {
				hv.Error = err.Error()
			} else {
				hv.Error = "non-positive price"
			}
			r.Unavailable = append(r.Unavailable, sym)
			r.UnpricedCost = r.UnpricedCost.Add(hv.Invested)
			r.Holdings = append(r.Holdings, hv)
			continue
		}

		mv := h.Quantity.Mul(price)
		pnl := h.Quantity.Mul(price.Sub(h.AvgBuyPrice))
		hv.Available = true
		hv.CurrentPrice = valid(price)
		hv.MarketValue = valid(mv)
		hv.UnrealizedPnL = valid(pnl)
		if hv.Invested.IsPositive() {
			hv.UnrealizedPnLPct = valid(pnl.Div(hv.Invested).Mul(hundred).Round(2))
		}

		r.TotalInvested = r.TotalInvested.Add(hv.Invested)
		r.TotalMarketValue = r.TotalMarketValue.Add(mv)
		r.Holdings = append(r.Holdings, hv)
	}

	r.TotalProfit = r.TotalMarketValue.Sub(r.TotalInvested)
	r.TotalValue = r.Cash.Add(r.TotalMarketValue)
	r.Complete = len(r.Unavailable) == 0

	if r.TotalMarketValue.IsPositive() {
		for i := range r.Holdings {
			hv := &r.Holdings[i]
			if hv.Available {
				hv.Allocation = valid(hv.MarketValue.Decimal.Div(r.TotalMarketValue).Mul(hundred).Round(2))
			}
		}
	}

	return r
}

func valid(v decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: v, Valid: true}
}
