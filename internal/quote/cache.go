package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// CachedSource wraps a Source with a Redis TTL cache. Quotes are shared
// across instances so a dashboard refresh does not fan out to the upstream
// API for every holding. Redis failures fall through to the inner source.
type CachedSource struct {
	inner Source
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedSource creates a cached wrapper around inner.
func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl}
}

func (s *CachedSource) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	cached, err := s.rdb.Get(ctx, quoteKey(sym)).Result()
	if err == nil {
		if p, perr := decimal.NewFromString(cached); perr == nil {
			return p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("quote cache read failed", "symbol", sym, "err", err)
	}

	p, err := s.inner.Price(ctx, sym)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.rdb.Set(ctx, quoteKey(sym), p.String(), s.ttl).Err(); err != nil {
		slog.Warn("quote cache write failed", "symbol", sym, "err", err)
	}
	return p, nil
}

func quoteKey(sym string) string { return fmt.Sprintf("quote:%s", sym) }
