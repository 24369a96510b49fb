package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wsacademy/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// portfolio snapshots. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.CreatePortfolio(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, p.UserID)
	return nil
}

func (s *CachedStore) CommitSettlement(ctx context.Context, p *model.Portfolio, trade *model.Trade) error {
	err := s.primary.CommitSettlement(ctx, p, trade)
	// A stale snapshot may have come from this cache; drop it so the retry
	// reads the primary.
	if err == nil || errors.Is(err, ErrStaleSnapshot) {
		s.invalidate(ctx, p.UserID)
	}
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(userID)).Bytes()
	if err == nil {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			if p.Holdings == nil {
				p.Holdings = make(map[string]model.Holding)
			}
			return &p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("portfolio cache read failed", "user_id", userID, "err", err)
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, portfolioKey(userID), data, s.ttl)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPortfolios(ctx context.Context) ([]*model.Portfolio, error) {
	return s.primary.ListPortfolios(ctx)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID)
}

func (s *CachedStore) GetAchievements(ctx context.Context, userID string) ([]model.AchievementState, error) {
	return s.primary.GetAchievements(ctx, userID)
}

func (s *CachedStore) MarkAwarded(ctx context.Context, userID string, kind model.AchievementKind, at time.Time) (bool, error) {
	return s.primary.MarkAwarded(ctx, userID, kind, at)
}

func (s *CachedStore) RecordIssuance(ctx context.Context, userID string, kind model.AchievementKind, ref string, at time.Time) error {
	return s.primary.RecordIssuance(ctx, userID, kind, ref, at)
}

func (s *CachedStore) PendingIssuance(ctx context.Context) ([]model.AchievementState, error) {
	return s.primary.PendingIssuance(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	if err := s.rdb.Del(ctx, portfolioKey(userID)).Err(); err != nil {
		slog.Warn("portfolio cache invalidation failed", "user_id", userID, "err", err)
	}
}

func portfolioKey(uid string) string { return fmt.Sprintf("portfolio:%s", uid) }
