package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/wsacademy/ledger-engine/internal/model"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS portfolios (
		user_id    TEXT PRIMARY KEY,
		cash       TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		user_id       TEXT NOT NULL REFERENCES portfolios (user_id),
		symbol        TEXT NOT NULL,
		quantity      TEXT NOT NULL,
		avg_buy_price TEXT NOT NULL,
		held_since    TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL REFERENCES portfolios (user_id),
		seq             INTEGER NOT NULL,
		symbol          TEXT NOT NULL,
		trade_type      TEXT NOT NULL,
		order_type      TEXT NOT NULL,
		quantity        TEXT NOT NULL,
		execution_price TEXT NOT NULL,
		commission      TEXT NOT NULL,
		realized_pnl    TEXT NOT NULL,
		timestamp       TIMESTAMP NOT NULL,
		UNIQUE (user_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS achievements (
		user_id      TEXT NOT NULL,
		kind         TEXT NOT NULL,
		status       TEXT NOT NULL,
		awarded_at   TIMESTAMP,
		issuance_ref TEXT NOT NULL DEFAULT '',
		issued_at    TIMESTAMP,
		PRIMARY KEY (user_id, kind)
	)`,
}

// SQLiteStore implements Store on a single SQLite file. Decimals are stored
// as TEXT to keep them exact. The pool is limited to one connection, so
// every transaction is serialized by the driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize sqlite schema: %w", err)
		}
	}

	slog.Info("sqlite store ready", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO portfolios (user_id, cash, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			p.UserID, p.Cash.String(), p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: portfolio for user %s", ErrExists, p.UserID)
		}
		for _, h := range p.Holdings {
			if err := sqliteUpsertHolding(ctx, tx, p.UserID, h); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	var p *model.Portfolio
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = sqliteLoadPortfolio(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListPortfolios(ctx context.Context) ([]*model.Portfolio, error) {
	var out []*model.Portfolio
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT user_id FROM portfolios ORDER BY user_id`)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			p, err := sqliteLoadPortfolio(ctx, tx, id)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *SQLiteStore) CommitSettlement(ctx context.Context, p *model.Portfolio, trade *model.Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE portfolios SET cash = ?, version = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			p.Cash.String(), p.Version, p.UpdatedAt.UTC(), p.UserID, p.Version-1)
		if err != nil {
			return fmt.Errorf("update portfolio: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var version int64
			err := tx.QueryRowContext(ctx, `SELECT version FROM portfolios WHERE user_id = ?`, p.UserID).Scan(&version)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: portfolio for user %s", ErrNotFound, p.UserID)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: user %s at version %d, snapshot expects %d",
				ErrStaleSnapshot, p.UserID, version, p.Version-1)
		}

		if h, ok := p.Holdings[trade.Symbol]; ok {
			err = sqliteUpsertHolding(ctx, tx, p.UserID, h)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ? AND symbol = ?`, p.UserID, trade.Symbol)
		}
		if err != nil {
			return fmt.Errorf("write holding %s: %w", trade.Symbol, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO trades (id, user_id, seq, symbol, trade_type, order_type,
			                     quantity, execution_price, commission, realized_pnl, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			trade.ID, trade.UserID, trade.Sequence, trade.Symbol, string(trade.TradeType), string(trade.OrderType),
			trade.Quantity.String(), trade.ExecutionPrice.String(), trade.Commission.String(),
			trade.RealizedPnL.String(), trade.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, seq, symbol, trade_type, order_type,
		        quantity, execution_price, commission, realized_pnl, timestamp
		 FROM trades WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var tradeType, orderType string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Sequence, &t.Symbol, &tradeType, &orderType,
			&t.Quantity, &t.ExecutionPrice, &t.Commission, &t.RealizedPnL, &t.Timestamp); err != nil {
			return nil, err
		}
		t.TradeType = model.TradeType(tradeType)
		t.OrderType = model.OrderType(orderType)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) GetAchievements(ctx context.Context, userID string) ([]model.AchievementState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, kind, status, awarded_at, issuance_ref, issued_at
		 FROM achievements WHERE user_id = ? ORDER BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return sqliteScanAchievements(rows)
}

func (s *SQLiteStore) MarkAwarded(ctx context.Context, userID string, kind model.AchievementKind, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO achievements (user_id, kind, status, awarded_at)
		 VALUES (?, ?, 'awarded', ?)
		 ON CONFLICT (user_id, kind) DO UPDATE
		 SET status = 'awarded', awarded_at = excluded.awarded_at
		 WHERE achievements.status <> 'awarded'`,
		userID, string(kind), at.UTC())
	if err != nil {
		return false, fmt.Errorf("mark awarded %s/%s: %w", userID, kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) RecordIssuance(ctx context.Context, userID string, kind model.AchievementKind, ref string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE achievements SET issuance_ref = ?, issued_at = ?
		 WHERE user_id = ? AND kind = ? AND status = 'awarded'`,
		ref, at.UTC(), userID, string(kind))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: awarded %s for user %s", ErrNotFound, kind, userID)
	}
	return nil
}

func (s *SQLiteStore) PendingIssuance(ctx context.Context) ([]model.AchievementState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, kind, status, awarded_at, issuance_ref, issued_at
		 FROM achievements WHERE status = 'awarded' AND issued_at IS NULL
		 ORDER BY user_id, kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return sqliteScanAchievements(rows)
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func sqliteLoadPortfolio(ctx context.Context, tx *sql.Tx, userID string) (*model.Portfolio, error) {
	p := &model.Portfolio{UserID: userID, Holdings: make(map[string]model.Holding)}
	err := tx.QueryRowContext(ctx,
		`SELECT cash, version, created_at, updated_at FROM portfolios WHERE user_id = ?`, userID).
		Scan(&p.Cash, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: portfolio for user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", userID, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT symbol, quantity, avg_buy_price, held_since FROM holdings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.Symbol, &h.Quantity, &h.AvgBuyPrice, &h.HeldSince); err != nil {
			return nil, err
		}
		p.Holdings[h.Symbol] = h
	}
	return p, rows.Err()
}

func sqliteUpsertHolding(ctx context.Context, tx *sql.Tx, userID string, h model.Holding) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO holdings (user_id, symbol, quantity, avg_buy_price, held_since)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, symbol) DO UPDATE
		 SET quantity = excluded.quantity, avg_buy_price = excluded.avg_buy_price, held_since = excluded.held_since`,
		userID, h.Symbol, h.Quantity.String(), h.AvgBuyPrice.String(), h.HeldSince.UTC())
	return err
}

func sqliteScanAchievements(rows *sql.Rows) ([]model.AchievementState, error) {
	var out []model.AchievementState
	for rows.Next() {
		var a model.AchievementState
		var kind, status string
		var awardedAt, issuedAt sql.NullTime
		if err := rows.Scan(&a.UserID, &kind, &status, &awardedAt, &a.IssuanceRef, &issuedAt); err != nil {
			return nil, err
		}
		a.Kind = model.AchievementKind(kind)
		a.Status = model.AchievementStatus(status)
		if awardedAt.Valid {
			t := awardedAt.Time
			a.AwardedAt = &t
		}
		if issuedAt.Valid {
			t := issuedAt.Time
			a.IssuedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
