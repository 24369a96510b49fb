// Package model defines the core domain types shared across the ledger engine.
// All monetary values and quantities use shopspring/decimal; never float64 for money.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the direction of an order.
type TradeType string

const (
	Buy  TradeType = "buy"
	Sell TradeType = "sell"
)

// OrderType is carried on the trade record as submitted. Every order settles
// at the caller-supplied execution price regardless of type.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Holding is a position in one symbol within one Portfolio.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price"` // weighted average of currently-held units
	HeldSince   time.Time       `json:"held_since"`    // start of the current continuous holding
}

// CostBasis is quantity * avg_buy_price.
func (h Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AvgBuyPrice)
}

// Portfolio is a user's cash balance plus current positions.
// Version increases by one with every committed settlement.
type Portfolio struct {
	UserID    string             `json:"user_id"`
	Cash      decimal.Decimal    `json:"cash"`
	Holdings  map[string]Holding `json:"holdings"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewPortfolio returns an empty portfolio funded with cash.
func NewPortfolio(userID string, cash decimal.Decimal, now time.Time) *Portfolio {
	return &Portfolio{
		UserID:    userID,
		Cash:      cash,
		Holdings:  make(map[string]Holding),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. Holding is a value type so copying the map is enough.
func (p *Portfolio) Clone() *Portfolio {
	c := *p
	c.Holdings = make(map[string]Holding, len(p.Holdings))
	for sym, h := range p.Holdings {
		c.Holdings[sym] = h
	}
	return &c
}

// Symbols returns held symbols in lexical order.
func (p *Portfolio) Symbols() []string {
	syms := make([]string, 0, len(p.Holdings))
	for sym := range p.Holdings {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// Trade is an immutable record of one executed order.
// Once created, these are never modified or deleted.
type Trade struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	TradeType      TradeType       `json:"trade_type"`
	OrderType      OrderType       `json:"order_type"`
	Quantity       decimal.Decimal `json:"quantity"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Commission     decimal.Decimal `json:"commission"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"` // zero for buys
	Sequence       int64           `json:"sequence"`     // per-user settlement ordinal
	Timestamp      time.Time       `json:"timestamp"`
}

// AchievementKind names a milestone condition.
type AchievementKind string

const (
	KindHeldNDays       AchievementKind = "held-n-days"
	KindProfitThreshold AchievementKind = "profit-threshold"
)

// AchievementStatus is one-way: NotMet → Awarded.
type AchievementStatus string

const (
	NotMet  AchievementStatus = "not-met"
	Awarded AchievementStatus = "awarded"
)

// AchievementState is the per (user, kind) milestone record.
type AchievementState struct {
	UserID      string            `json:"user_id"`
	Kind        AchievementKind   `json:"kind"`
	Status      AchievementStatus `json:"status"`
	AwardedAt   *time.Time        `json:"awarded_at,omitempty"`
	IssuanceRef string            `json:"issuance_ref,omitempty"` // reference returned by the award issuer
	IssuedAt    *time.Time        `json:"issued_at,omitempty"`
}

// Issued reports whether the award issuer has confirmed this award.
func (a AchievementState) Issued() bool {
	return a.IssuedAt != nil
}
