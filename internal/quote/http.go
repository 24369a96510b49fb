package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// HTTPSource fetches a JSON quote document per symbol and extracts the price
// with a JSONPath expression, so any quote API returning JSON can be used
// without code changes.
//
// URLTemplate contains a {symbol} placeholder, e.g.
// https://quotes.example.com/v1/quote?symbol={symbol}
// and PricePath selects the price, e.g. $.quoteResponse.result[0].regularMarketPrice
type HTTPSource struct {
	URLTemplate string
	PricePath   string
	Client      *http.Client
}

// NewHTTPSource creates an HTTP quote source with a bounded client timeout.
func NewHTTPSource(urlTemplate, pricePath string) *HTTPSource {
	if pricePath == "" {
		pricePath = "$.price"
	}
	return &HTTPSource{
		URLTemplate: urlTemplate,
		PricePath:   pricePath,
		Client:      &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSource) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	u := strings.ReplaceAll(s.URLTemplate, "{symbol}", url.QueryEscape(sym))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, unavailable("http", sym, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return decimal.Zero, unavailable("http", sym, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, unavailable("http", sym, fmt.Errorf("status %d", resp.StatusCode))
	}

	var doc interface{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return decimal.Zero, unavailable("http", sym, err)
	}

	v, err := jsonpath.Get(s.PricePath, doc)
	if err != nil {
		return decimal.Zero, unavailable("http", sym, err)
	}

	price, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, unavailable("http", sym, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, unavailable("http", sym, fmt.Errorf("non-positive price %s", price))
	}
	return price, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case nil:
		return decimal.Zero, fmt.Errorf("price is null")
	default:
		return decimal.Zero, fmt.Errorf("unexpected price type %T", v)
	}
}
