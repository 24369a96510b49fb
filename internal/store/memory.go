package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wsacademy/ledger-engine/internal/model"
)

type achievementKey struct {
	userID string
	kind   model.AchievementKind
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	portfolios   map[string]*model.Portfolio
	trades       map[string][]model.Trade
	achievements map[achievementKey]*model.AchievementState
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios:   make(map[string]*model.Portfolio),
		trades:       make(map[string][]model.Trade),
		achievements: make(map[achievementKey]*model.AchievementState),
	}
}

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[p.UserID]; ok {
		return fmt.Errorf("%w: portfolio for user %s", ErrExists, p.UserID)
	}
	// Store a copy to avoid external mutation.
	s.portfolios[p.UserID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, userID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[userID]
	if !ok {
		return nil, fmt.Errorf("%w: portfolio for user %s", ErrNotFound, userID)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPortfolios(_ context.Context) ([]*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Portfolio, 0, len(s.portfolios))
	for _, p := range s.portfolios {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) CommitSettlement(_ context.Context, p *model.Portfolio, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.portfolios[p.UserID]
	if !ok {
		return fmt.Errorf("%w: portfolio for user %s", ErrNotFound, p.UserID)
	}
	if current.Version != p.Version-1 {
		return fmt.Errorf("%w: user %s at version %d, snapshot expects %d",
			ErrStaleSnapshot, p.UserID, current.Version, p.Version-1)
	}

	s.portfolios[p.UserID] = p.Clone()
	s.trades[p.UserID] = append(s.trades[p.UserID], *trade)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[userID]
	out := make([]model.Trade, len(trades))
	copy(out, trades)
	return out, nil
}

func (s *MemoryStore) GetAchievements(_ context.Context, userID string) ([]model.AchievementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AchievementState
	for k, a := range s.achievements {
		if k.userID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *MemoryStore) MarkAwarded(_ context.Context, userID string, kind model.AchievementKind, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := achievementKey{userID, kind}
	if a, ok := s.achievements[key]; ok && a.Status == model.Awarded {
		return false, nil
	}
	awardedAt := at
	s.achievements[key] = &model.AchievementState{
		UserID:    userID,
		Kind:      kind,
		Status:    model.Awarded,
		AwardedAt: &awardedAt,
	}
	return true, nil
}

func (s *MemoryStore) RecordIssuance(_ context.Context, userID string, kind model.AchievementKind, ref string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.achievements[achievementKey{userID, kind}]
	if !ok || a.Status != model.Awarded {
		return fmt.Errorf("%w: awarded %s for user %s", ErrNotFound, kind, userID)
	}
	issuedAt := at
	a.IssuanceRef = ref
	a.IssuedAt = &issuedAt
	return nil
}

func (s *MemoryStore) PendingIssuance(_ context.Context) ([]model.AchievementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AchievementState
	for _, a := range s.achievements {
		if a.Status == model.Awarded && !a.Issued() {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}
