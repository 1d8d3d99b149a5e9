// Package store holds every persistence concern: the day-scoped order
// journal, the resistance-level file, the balance history database, and the
// quote snapshot archive.
package store

import (
	"context"
	"time"

	"wheelhouse/internal/domain"
)

// BalanceStore records account balance snapshots over time.
type BalanceStore interface {
	// RecordBalance appends one balance snapshot for an account type.
	RecordBalance(ctx context.Context, accountType string, at time.Time, value float64) error

	// BalanceHistory returns the most recent snapshots for an account
	// type, newest first, up to limit.
	BalanceHistory(ctx context.Context, accountType string, limit int) ([]BalanceRecord, error)
}

// QuoteRecorder archives equity quote snapshots.
type QuoteRecorder interface {
	// RecordQuote appends one quote snapshot together with the
	// resistance level observed at the time.
	RecordQuote(ctx context.Context, q domain.StockQuote, resistance float64, at time.Time) error

	// ReadQuotes returns archived snapshots for a symbol within
	// [start, end].
	ReadQuotes(ctx context.Context, symbol string, start, end time.Time) ([]QuoteSnapshot, error)
}

// BalanceRecord is one persisted balance snapshot.
type BalanceRecord struct {
	AccountType string
	RecordedAt  time.Time
	Value       float64
}

// QuoteSnapshot is one archived quote observation.
type QuoteSnapshot struct {
	Symbol     string
	Timestamp  time.Time
	Mid        float64
	High       float64
	Low        float64
	Resistance float64
}
