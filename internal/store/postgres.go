package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/model"
)

// postgresSchema is applied by Migrate. Statements are idempotent.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS portfolios (
		user_id    TEXT PRIMARY KEY,
		cash       NUMERIC NOT NULL CHECK (cash >= 0),
		version    BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		user_id       TEXT NOT NULL REFERENCES portfolios (user_id),
		symbol        TEXT NOT NULL,
		quantity      NUMERIC NOT NULL CHECK (quantity > 0),
		avg_buy_price NUMERIC NOT NULL CHECK (avg_buy_price > 0),
		held_since    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL REFERENCES portfolios (user_id),
		seq             BIGINT NOT NULL,
		symbol          TEXT NOT NULL,
		trade_type      TEXT NOT NULL,
		order_type      TEXT NOT NULL,
		quantity        NUMERIC NOT NULL,
		execution_price NUMERIC NOT NULL,
		commission      NUMERIC NOT NULL,
		realized_pnl    NUMERIC NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS achievements (
		user_id      TEXT NOT NULL,
		kind         TEXT NOT NULL,
		status       TEXT NOT NULL,
		awarded_at   TIMESTAMPTZ,
		issuance_ref TEXT NOT NULL DEFAULT '',
		issued_at    TIMESTAMPTZ,
		PRIMARY KEY (user_id, kind)
	)`,
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Settlement locks the user's portfolio row, so concurrent settlements for
// one user serialize across instances while different users never contend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO portfolios (user_id, cash, version, created_at, updated_at)
			 VALUES ($1, $2::NUMERIC, $3, $4, $5)
			 ON CONFLICT (user_id) DO NOTHING`,
			p.UserID, p.Cash.String(), p.Version, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: portfolio for user %s", ErrExists, p.UserID)
		}
		for _, h := range p.Holdings {
			if err := upsertHolding(ctx, tx, p.UserID, h); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	var p *model.Portfolio

	// Repeatable read so the portfolio row and its holdings come from the
	// same committed settlement.
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly},
		func(tx pgx.Tx) error {
			var cash string
			p = &model.Portfolio{UserID: userID, Holdings: make(map[string]model.Holding)}
			err := tx.QueryRow(ctx,
				`SELECT cash::TEXT, version, created_at, updated_at
				 FROM portfolios WHERE user_id = $1`, userID).
				Scan(&cash, &p.Version, &p.CreatedAt, &p.UpdatedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: portfolio for user %s", ErrNotFound, userID)
			}
			if err != nil {
				return fmt.Errorf("get portfolio %s: %w", userID, err)
			}
			if p.Cash, err = decimal.NewFromString(cash); err != nil {
				return fmt.Errorf("parse cash: %w", err)
			}

			rows, err := tx.Query(ctx,
				`SELECT user_id, symbol, quantity::TEXT, avg_buy_price::TEXT, held_since
				 FROM holdings WHERE user_id = $1`, userID)
			if err != nil {
				return err
			}
			defer rows.Close()
			return scanHoldings(rows, map[string]*model.Portfolio{userID: p})
		})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListPortfolios(ctx context.Context) ([]*model.Portfolio, error) {
	var out []*model.Portfolio

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly},
		func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx,
				`SELECT user_id, cash::TEXT, version, created_at, updated_at
				 FROM portfolios ORDER BY user_id`)
			if err != nil {
				return err
			}
			byUser := make(map[string]*model.Portfolio)
			for rows.Next() {
				var cash string
				p := &model.Portfolio{Holdings: make(map[string]model.Holding)}
				if err := rows.Scan(&p.UserID, &cash, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
					rows.Close()
					return err
				}
				if p.Cash, err = decimal.NewFromString(cash); err != nil {
					rows.Close()
					return fmt.Errorf("parse cash for %s: %w", p.UserID, err)
				}
				byUser[p.UserID] = p
				out = append(out, p)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			hrows, err := tx.Query(ctx,
				`SELECT user_id, symbol, quantity::TEXT, avg_buy_price::TEXT, held_since FROM holdings`)
			if err != nil {
				return err
			}
			defer hrows.Close()
			return scanHoldings(hrows, byUser)
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) CommitSettlement(ctx context.Context, p *model.Portfolio, trade *model.Trade) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var version int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM portfolios WHERE user_id = $1 FOR UPDATE`, p.UserID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: portfolio for user %s", ErrNotFound, p.UserID)
	}
	if err != nil {
		return err
	}
	if version != p.Version-1 {
		return fmt.Errorf("%w: user %s at version %d, snapshot expects %d",
			ErrStaleSnapshot, p.UserID, version, p.Version-1)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE portfolios SET cash = $2::NUMERIC, version = $3, updated_at = $4 WHERE user_id = $1`,
		p.UserID, p.Cash.String(), p.Version, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update portfolio: %w", err)
	}

	// Settlement only ever touches the traded symbol.
	if h, ok := p.Holdings[trade.Symbol]; ok {
		err = upsertHolding(ctx, tx, p.UserID, h)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM holdings WHERE user_id = $1 AND symbol = $2`, p.UserID, trade.Symbol)
	}
	if err != nil {
		return fmt.Errorf("write holding %s: %w", trade.Symbol, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, seq, symbol, trade_type, order_type,
		                     quantity, execution_price, commission, realized_pnl, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		trade.ID, trade.UserID, trade.Sequence, trade.Symbol, string(trade.TradeType), string(trade.OrderType),
		trade.Quantity.String(), trade.ExecutionPrice.String(), trade.Commission.String(),
		trade.RealizedPnL.String(), trade.Timestamp,
	); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, seq, symbol, trade_type, order_type,
		        quantity::TEXT, execution_price::TEXT, commission::TEXT, realized_pnl::TEXT, timestamp
		 FROM trades WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var tradeType, orderType, qty, price, commission, pnl string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Sequence, &t.Symbol, &tradeType, &orderType,
			&qty, &price, &commission, &pnl, &t.Timestamp); err != nil {
			return nil, err
		}
		t.TradeType = model.TradeType(tradeType)
		t.OrderType = model.OrderType(orderType)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.ExecutionPrice, _ = decimal.NewFromString(price)
		t.Commission, _ = decimal.NewFromString(commission)
		t.RealizedPnL, _ = decimal.NewFromString(pnl)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetAchievements(ctx context.Context, userID string) ([]model.AchievementState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, kind, status, awarded_at, issuance_ref, issued_at
		 FROM achievements WHERE user_id = $1 ORDER BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAchievements(rows)
}

func (s *PostgresStore) MarkAwarded(ctx context.Context, userID string, kind model.AchievementKind, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO achievements (user_id, kind, status, awarded_at)
		 VALUES ($1, $2, 'awarded', $3)
		 ON CONFLICT (user_id, kind) DO UPDATE
		 SET status = 'awarded', awarded_at = EXCLUDED.awarded_at
		 WHERE achievements.status <> 'awarded'`,
		userID, string(kind), at,
	)
	if err != nil {
		return false, fmt.Errorf("mark awarded %s/%s: %w", userID, kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordIssuance(ctx context.Context, userID string, kind model.AchievementKind, ref string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE achievements SET issuance_ref = $3, issued_at = $4
		 WHERE user_id = $1 AND kind = $2 AND status = 'awarded'`,
		userID, string(kind), ref, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: awarded %s for user %s", ErrNotFound, kind, userID)
	}
	return nil
}

func (s *PostgresStore) PendingIssuance(ctx context.Context) ([]model.AchievementState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, kind, status, awarded_at, issuance_ref, issued_at
		 FROM achievements WHERE status = 'awarded' AND issued_at IS NULL
		 ORDER BY user_id, kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAchievements(rows)
}

func upsertHolding(ctx context.Context, tx pgx.Tx, userID string, h model.Holding) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO holdings (user_id, symbol, quantity, avg_buy_price, held_since)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, symbol) DO UPDATE
		 SET quantity = EXCLUDED.quantity, avg_buy_price = EXCLUDED.avg_buy_price, held_since = EXCLUDED.held_since`,
		userID, h.Symbol, h.Quantity.String(), h.AvgBuyPrice.String(), h.HeldSince,
	)
	return err
}

// pgxRows is the subset of pgx.Rows used by the scan helpers.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanHoldings(rows pgxRows, byUser map[string]*model.Portfolio) error {
	for rows.Next() {
		var userID, qty, avg string
		var h model.Holding
		if err := rows.Scan(&userID, &h.Symbol, &qty, &avg, &h.HeldSince); err != nil {
			return err
		}
		p, ok := byUser[userID]
		if !ok {
			continue
		}
		h.Quantity, _ = decimal.NewFromString(qty)
		h.AvgBuyPrice, _ = decimal.NewFromString(avg)
		p.Holdings[h.Symbol] = h
	}
	return rows.Err()
}

func scanAchievements(rows pgxRows) ([]model.AchievementState, error) {
	var out []model.AchievementState
	for rows.Next() {
		var a model.AchievementState
		var kind, status string
		if err := rows.Scan(&a.UserID, &kind, &status, &a.AwardedAt, &a.IssuanceRef, &a.IssuedAt); err != nil {
			return nil, err
		}
		a.Kind = model.AchievementKind(kind)
		a.Status = model.AchievementStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
