package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/symbol"
)

// Order is a proposed buy or sell, as submitted by the UI layer.
type Order struct {
	UserID         string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	TradeType      model.TradeType `json:"trade_type"`
	OrderType      model.OrderType `json:"order_type"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Commission     decimal.Decimal `json:"commission"`
}

// Normalize validates the field set and returns a canonical copy: symbol
// upper-cased, trade and order types lower-cased, order type defaulted to
// market. Every error wraps ErrInvalidOrder.
func (o Order) Normalize() (Order, error) {
	if strings.TrimSpace(o.UserID) == "" {
		return o, fmt.Errorf("%w: user_id is required", ErrInvalidOrder)
	}
	o.UserID = strings.TrimSpace(o.UserID)

	sym, err := symbol.Parse(o.Symbol)
	if err != nil {
		return o, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	o.Symbol = sym

	o.TradeType = model.TradeType(strings.ToLower(string(o.TradeType)))
	if o.TradeType != model.Buy && o.TradeType != model.Sell {
		return o, fmt.Errorf("%w: trade_type must be buy or sell", ErrInvalidOrder)
	}

	o.OrderType = model.OrderType(strings.ToLower(string(o.OrderType)))
	switch o.OrderType {
	case "":
		o.OrderType = model.Market
	case model.Market, model.Limit:
	default:
		return o, fmt.Errorf("%w: order_type must be market or limit", ErrInvalidOrder)
	}

	if !o.Quantity.IsPositive() {
		return o, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if !o.ExecutionPrice.IsPositive() {
		return o, fmt.Errorf("%w: execution_price must be positive", ErrInvalidOrder)
	}
	if o.Commission.IsNegative() {
		return o, fmt.Errorf("%w: commission must not be negative", ErrInvalidOrder)
	}
	return o, nil
}

// Gross is quantity * execution_price, before commission.
func (o Order) Gross() decimal.Decimal {
	return o.Quantity.Mul(o.ExecutionPrice)
}
