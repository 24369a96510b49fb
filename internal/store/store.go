// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// durable), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wsacademy/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when no portfolio exists for a user.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned when creating a portfolio that already exists.
	ErrExists = errors.New("store: already exists")

	// ErrStaleSnapshot is returned by CommitSettlement when the stored
	// portfolio moved past the snapshot the settlement was computed from.
	ErrStaleSnapshot = errors.New("store: stale snapshot")
)

// Store is the persistence interface. Portfolios are keyed by user, trades
// are append-only per user, achievement states are keyed by (user, kind).
type Store interface {
	// --- Portfolios ---

	// CreatePortfolio persists a new portfolio at version 0.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error

	// GetPortfolio returns a consistent snapshot of a user's portfolio.
	GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error)

	// ListPortfolios returns every portfolio.
	ListPortfolios(ctx context.Context) ([]*model.Portfolio, error)

	// --- Settlement ---

	// CommitSettlement atomically replaces the portfolio and appends the
	// trade. It succeeds only if the stored version is p.Version-1;
	// otherwise nothing is written and ErrStaleSnapshot is returned.
	CommitSettlement(ctx context.Context, p *model.Portfolio, trade *model.Trade) error

	// ListTrades returns a user's trades in settlement order.
	ListTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Achievements ---

	// GetAchievements returns the stored states for a user. Kinds never
	// awarded may be absent.
	GetAchievements(ctx context.Context, userID string) ([]model.AchievementState, error)

	// MarkAwarded performs the one-way not-met → awarded transition. It
	// returns true only for the call that made the transition.
	MarkAwarded(ctx context.Context, userID string, kind model.AchievementKind, at time.Time) (bool, error)

	// RecordIssuance stores the issuer's reference for an awarded achievement.
	RecordIssuance(ctx context.Context, userID string, kind model.AchievementKind, ref string, at time.Time) error

	// PendingIssuance returns awarded achievements the issuer has not confirmed.
	PendingIssuance(ctx context.Context) ([]model.AchievementState, error)
}
