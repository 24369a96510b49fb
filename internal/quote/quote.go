// Package quote provides current-price lookups for held symbols.
//
// Prices are an external input taken at face value. Every Source returns
// ErrPriceUnavailable (possibly wrapped) when it cannot produce a price, so
// callers can degrade per symbol instead of failing a whole report.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/metrics"
	"github.com/wsacademy/ledger-engine/internal/symbol"
)

// ErrPriceUnavailable is returned when no current price exists for a symbol.
var ErrPriceUnavailable = errors.New("quote: price unavailable")

// Source looks up the current price of one symbol.
type Source interface {
	Price(ctx context.Context, sym string) (decimal.Decimal, error)
}

// StaticSource serves prices from an in-memory table. Used for development
// and tests, and as a manual override table in front of live sources.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticSource creates a static source seeded with prices.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[strings.ToUpper(sym)] = p
	}
	return s
}

// Set replaces the price of sym. A non-positive price removes it.
func (s *StaticSource) Set(sym string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym = strings.ToUpper(sym)
	if !price.IsPositive() {
		delete(s.prices, sym)
		return
	}
	s.prices[sym] = price
}

func (s *StaticSource) Price(_ context.Context, sym string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(sym)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceUnavailable, sym)
	}
	return p, nil
}

// Router dispatches lookups by asset class. A nil route means the class is
// not priced.
type Router struct {
	Equity Source
	Crypto Source
}

func (r *Router) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	var src Source
	switch symbol.Classify(sym) {
	case symbol.Crypto:
		src = r.Crypto
	default:
		src = r.Equity
	}
	if src == nil {
		return decimal.Zero, fmt.Errorf("%w: no source for %s", ErrPriceUnavailable, sym)
	}
	return src.Price(ctx, sym)
}

// Chain tries each source in order and returns the first price found.
type Chain []Source

func (c Chain) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	var lastErr error = fmt.Errorf("%w: %s", ErrPriceUnavailable, sym)
	for _, src := range c {
		p, err := src.Price(ctx, sym)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return decimal.Zero, lastErr
}

// unavailable wraps a source-specific failure so errors.Is matches
// ErrPriceUnavailable, and counts it.
func unavailable(source, sym string, err error) error {
	metrics.PriceLookupFailures.WithLabelValues(source).Inc()
	return fmt.Errorf("%w: %s via %s: %v", ErrPriceUnavailable, sym, source, err)
}
