package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ BalanceStore = (*SQLiteStore)(nil)

// SQLiteStore implements BalanceStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS balance_history (
			account_type TEXT    NOT NULL,
			recorded_at  TEXT    NOT NULL,
			value        REAL    NOT NULL,
			PRIMARY KEY (account_type, recorded_at)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating balance_history table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordBalance appends one balance snapshot for an account type. Recording
// the same (account type, timestamp) pair twice overwrites the value, which
// keeps re-runs within the same second idempotent.
func (s *SQLiteStore) RecordBalance(ctx context.Context, accountType string, at time.Time, value float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_history (account_type, recorded_at, value)
		VALUES (?, ?, ?)
		ON CONFLICT (account_type, recorded_at) DO UPDATE SET value = excluded.value`,
		accountType, at.UTC().Format(time.RFC3339), value)
	if err != nil {
		return fmt.Errorf("recording balance: %w", err)
	}
	return nil
}

// BalanceHistory returns the most recent snapshots for an account type,
// newest first, up to limit.
func (s *SQLiteStore) BalanceHistory(ctx context.Context, accountType string, limit int) ([]BalanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recorded_at, value FROM balance_history
		WHERE account_type = ?
		ORDER BY recorded_at DESC
		LIMIT ?`, accountType, limit)
	if err != nil {
		return nil, fmt.Errorf("querying balance history: %w", err)
	}
	defer rows.Close()

	var out []BalanceRecord
	for rows.Next() {
		var (
			rec BalanceRecord
			ts  string
		)
		if err := rows.Scan(&ts, &rec.Value); err != nil {
			return nil, err
		}
		rec.AccountType = accountType
		rec.RecordedAt, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", ts, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
