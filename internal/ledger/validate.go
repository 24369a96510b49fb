// Package ledger implements trade validation and settlement against a
// portfolio snapshot.
//
// Both operations are pure: they never mutate their inputs, never touch
// storage and never read the clock. Persistence and per-user serialization
// belong to the caller.
package ledger

import (
	"fmt"

	"github.com/wsacademy/ledger-engine/internal/model"
)

// Validate checks a proposed order against a portfolio snapshot.
// It returns nil if the order can be settled, or an error wrapping one of
// ErrInsufficientFunds, ErrUnknownPosition or ErrInsufficientPosition.
//
// The order is expected to have passed Normalize.
func Validate(p *model.Portfolio, o Order) error {
	switch o.TradeType {
	case model.Buy:
		cost := o.Gross().Add(o.Commission)
		if cost.GreaterThan(p.Cash) {
			return fmt.Errorf("%w: cost %s exceeds cash %s", ErrInsufficientFunds, cost, p.Cash)
		}
		return nil

	case model.Sell:
		h, ok := p.Holdings[o.Symbol]
		if !ok {
			return fmt.Errorf("%w: %s is not held", ErrUnknownPosition, o.Symbol)
		}
		if o.Quantity.GreaterThan(h.Quantity) {
			return fmt.Errorf("%w: selling %s of %s but holding %s",
				ErrInsufficientPosition, o.Quantity, o.Symbol, h.Quantity)
		}
		// Cash must stay non-negative even when commission exceeds proceeds.
		if p.Cash.Add(o.Gross()).LessThan(o.Commission) {
			return fmt.Errorf("%w: commission %s exceeds cash plus proceeds", ErrInsufficientFunds, o.Commission)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown trade_type %q", ErrInvalidOrder, o.TradeType)
	}
}
