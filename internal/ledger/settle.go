package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/model"
)

// Settle applies an order to a portfolio snapshot and returns the resulting
// portfolio together with the trade record. The order is re-validated first;
// on any rejection the returned portfolio and trade are nil and p is untouched.
//
// Buy:  cash -= q*price + commission; avg cost is the quantity-weighted blend.
// Sell: cash += q*price - commission; avg cost is unchanged, an emptied
// holding is removed, and realized P&L = q*(price - avg) is put on the trade.
// Commission never enters the cost basis.
//
// The returned portfolio carries Version = p.Version+1 and the trade's
// Sequence equals that version, so history order equals settlement order.
func Settle(p *model.Portfolio, o Order, now time.Time) (*model.Portfolio, *model.Trade, error) {
	if err := Validate(p, o); err != nil {
		return nil, nil, err
	}

	next := p.Clone()
	next.Version = p.Version + 1
	next.UpdatedAt = now

	trade := &model.Trade{
		ID:             uuid.New().String(),
		UserID:         p.UserID,
		Symbol:         o.Symbol,
		TradeType:      o.TradeType,
		OrderType:      o.OrderType,
		Quantity:       o.Quantity,
		ExecutionPrice: o.ExecutionPrice,
		Commission:     o.Commission,
		RealizedPnL:    decimal.Zero,
		Sequence:       next.Version,
		Timestamp:      now,
	}

	gross := o.Gross()

	switch o.TradeType {
	case model.Buy:
		next.Cash = p.Cash.Sub(gross).Sub(o.Commission)

		h, held := p.Holdings[o.Symbol]
		if !held {
			next.Holdings[o.Symbol] = model.Holding{
				Symbol:      o.Symbol,
				Quantity:    o.Quantity,
				AvgBuyPrice: o.ExecutionPrice,
				HeldSince:   now,
			}
			break
		}
		newQty := h.Quantity.Add(o.Quantity)
		h.AvgBuyPrice = h.CostBasis().Add(gross).Div(newQty)
		h.Quantity = newQty
		next.Holdings[o.Symbol] = h

	case model.Sell:
		h := p.Holdings[o.Symbol]
		next.Cash = p.Cash.Add(gross).Sub(o.Commission)
		trade.RealizedPnL = o.Quantity.Mul(o.ExecutionPrice.Sub(h.AvgBuyPrice))

		h.Quantity = h.Quantity.Sub(o.Quantity)
		if h.Quantity.IsZero() {
			delete(next.Holdings, o.Symbol)
		} else {
			next.Holdings[o.Symbol] = h
		}
	}

	return next, trade, nil
}
