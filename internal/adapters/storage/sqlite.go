package storage

// sqlite.go: liquidation attempt ledger.
//
// Tables:
//   attempts: one row per pass through an obligation's liquidation loop,
//             landed or not. Keyed by a random UUID.
//   epochs:   one light summary row per scan epoch.
//
// Timestamps are stored as unix milliseconds. Rows older than the retention
// window are pruned when the store opens.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
    id               TEXT PRIMARY KEY,
    market           TEXT    NOT NULL,
    obligation       TEXT    NOT NULL,
    pass             INTEGER NOT NULL DEFAULT 0,
    repay_reserve    TEXT    NOT NULL,
    repay_symbol     TEXT    NOT NULL DEFAULT '',
    withdraw_reserve TEXT    NOT NULL,
    withdraw_symbol  TEXT    NOT NULL DEFAULT '',
    amount           INTEGER NOT NULL DEFAULT 0,
    flash_amount     INTEGER NOT NULL DEFAULT 0,
    signature        TEXT    NOT NULL DEFAULT '',
    profit           INTEGER NOT NULL DEFAULT 0,
    error            TEXT    NOT NULL DEFAULT '',
    started_at       INTEGER NOT NULL,
    duration_ms      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS epochs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    epoch       INTEGER NOT NULL,
    started_at  INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    markets     INTEGER NOT NULL DEFAULT 0,
    obligations INTEGER NOT NULL DEFAULT 0,
    unhealthy   INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    successes   INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attempts_started    ON attempts(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_attempts_obligation ON attempts(obligation);
CREATE INDEX IF NOT EXISTS idx_epochs_started      ON epochs(started_at DESC);
`

const (
	retentionAttempts = 90 * 24 * time.Hour
	retentionEpochs   = 30 * 24 * time.Hour
)

// SQLiteStorage implements ports.AttemptStore using SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.AttemptStore = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the database at path, applies the
// schema and prunes expired rows.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background(), time.Now())
	return s, nil
}

// SaveAttempt inserts attempt, assigning an id when it has none.
func (s *SQLiteStorage) SaveAttempt(ctx context.Context, a domain.LiquidationAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts
			(id, market, obligation, pass, repay_reserve, repay_symbol,
			 withdraw_reserve, withdraw_symbol, amount, flash_amount,
			 signature, profit, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Market.String(), a.Obligation.String(), a.Pass,
		a.RepayReserve.String(), a.RepaySymbol,
		a.WithdrawReserve.String(), a.WithdrawSymbol,
		int64(a.Amount), int64(a.FlashAmount),
		a.Signature, a.Profit, a.Error,
		a.StartedAt.UnixMilli(), a.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveAttempt: %s: %w", a.Obligation, err)
	}
	return nil
}

// RecentAttempts returns attempts started in [from, to], newest first.
func (s *SQLiteStorage) RecentAttempts(ctx context.Context, from, to time.Time) ([]domain.LiquidationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market, obligation, pass, repay_reserve, repay_symbol,
		       withdraw_reserve, withdraw_symbol, amount, flash_amount,
		       signature, profit, error, started_at, duration_ms
		FROM attempts
		WHERE started_at BETWEEN ? AND ?
		ORDER BY started_at DESC, rowid DESC
	`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.RecentAttempts: query: %w", err)
	}
	defer rows.Close()

	var out []domain.LiquidationAttempt
	for rows.Next() {
		var (
			a                                    domain.LiquidationAttempt
			market, obligation, repay, withdraw  string
			amount, flash, startedMs, durationMs int64
		)
		if err := rows.Scan(
			&a.ID, &market, &obligation, &a.Pass, &repay, &a.RepaySymbol,
			&withdraw, &a.WithdrawSymbol, &amount, &flash,
			&a.Signature, &a.Profit, &a.Error, &startedMs, &durationMs,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentAttempts: scan row: %w", err)
		}
		a.Market = parseKey(market)
		a.Obligation = parseKey(obligation)
		a.RepayReserve = parseKey(repay)
		a.WithdrawReserve = parseKey(withdraw)
		a.Amount = uint64(amount)
		a.FlashAmount = uint64(flash)
		a.StartedAt = time.UnixMilli(startedMs).UTC()
		a.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveEpoch appends one epoch summary row.
func (s *SQLiteStorage) SaveEpoch(ctx context.Context, e domain.EpochSummary) error {
	skipped := 0
	if e.Skipped {
		skipped = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epochs
			(epoch, started_at, duration_ms, markets, obligations, unhealthy, attempts, successes, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Epoch, e.StartedAt.UnixMilli(), e.Duration.Milliseconds(),
		e.Markets, e.Obligations, e.Unhealthy, e.Attempts, e.Successes, skipped,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveEpoch: %d: %w", e.Epoch, err)
	}
	return nil
}

// EpochCount returns the number of stored epoch rows.
func (s *SQLiteStorage) EpochCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM epochs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.EpochCount: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) pruneOld(ctx context.Context, now time.Time) {
	s.db.ExecContext(ctx, `DELETE FROM attempts WHERE started_at < ?`, now.Add(-retentionAttempts).UnixMilli())
	s.db.ExecContext(ctx, `DELETE FROM epochs WHERE started_at < ?`, now.Add(-retentionEpochs).UnixMilli())
}

func parseKey(s string) solana.PublicKey {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}
	}
	return pk
}
