// Package symbol handles ticker symbol parsing and classification.
//
// Equity tickers look like AAPL, BRK.B or RDS-A. Crypto pairs are quoted
// against a stablecoin (BTCUSDT, ETHUSDC) and are priced from a different
// quote source than equities.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Class is the asset class a symbol is priced as.
type Class string

const (
	Equity Class = "equity"
	Crypto Class = "crypto"
)

// tickerRegex matches: {root}[.|-{suffix}]
// Examples: AAPL, BRK.B, RDS-A, BTCUSDT
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]{1,12})(?:[.\-]([A-Z0-9]{1,6}))?$`)

// Quote assets recognized as crypto pair suffixes.
var cryptoQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD"}

var (
	ErrEmptySymbol   = errors.New("symbol: empty symbol")
	ErrInvalidSymbol = errors.New("symbol: invalid ticker format")
)

// Parse normalizes and validates a ticker symbol. Surrounding whitespace is
// trimmed and letters are upper-cased before matching.
func Parse(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrEmptySymbol
	}
	if !tickerRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected e.g. AAPL, BRK.B, BTCUSDT)", ErrInvalidSymbol, raw)
	}
	return s, nil
}

// Classify returns Crypto for stablecoin-quoted pairs, Equity otherwise.
// The symbol must already be normalized by Parse.
func Classify(sym string) Class {
	if strings.ContainsAny(sym, ".-") {
		return Equity
	}
	for _, q := range cryptoQuotes {
		if len(sym) > len(q) && strings.HasSuffix(sym, q) {
			return Crypto
		}
	}
	return Equity
}
