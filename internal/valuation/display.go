package valuation

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Display holds currency-formatted totals for rendering, e.g. "$100,050.00".
type Display struct {
	Currency         string `json:"currency"`
	Cash             string `json:"cash"`
	TotalInvested    string `json:"total_invested"`
	TotalMarketValue string `json:"total_market_value"`
	TotalProfit      string `json:"total_profit"`
	TotalValue       string `json:"total_value"`
}

// WithDisplay fills r.Display using the given ISO currency code and returns r.
func (r *Report) WithDisplay(currency string) *Report {
	r.Display = &Display{
		Currency:         currency,
		Cash:             FormatMoney(r.Cash, currency),
		TotalInvested:    FormatMoney(r.TotalInvested, currency),
		TotalMarketValue: FormatMoney(r.TotalMarketValue, currency),
		TotalProfit:      FormatMoney(r.TotalProfit, currency),
		TotalValue:       FormatMoney(r.TotalValue, currency),
	}
	return r
}

// FormatMoney renders a major-unit amount in the currency's conventional
// format, rounded to the currency's minor unit.
func FormatMoney(v decimal.Decimal, currency string) string {
	// money.New never yields a nil currency, unknown codes get a generic one.
	cur := *money.New(0, currency).Currency()
	minor := v.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
