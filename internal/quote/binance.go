package quote

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinanceSource prices crypto pairs from the Binance spot ticker. The
// ticker endpoint is public, so no API keys are required.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource creates a source backed by the public spot API.
func NewBinanceSource() *BinanceSource {
	return &BinanceSource{client: binance.NewClient("", "")}
}

func (s *BinanceSource) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	prices, err := s.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return decimal.Zero, unavailable("binance", sym, err)
	}
	for _, p := range prices {
		if p.Symbol != sym {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, unavailable("binance", sym, err)
		}
		return price, nil
	}
	return decimal.Zero, unavailable("binance", sym, fmt.Errorf("symbol not listed"))
}
