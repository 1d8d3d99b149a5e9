// Package broker defines the gateway interfaces the trading engines consume
// and provides the Schwab implementation behind them.
package broker

import (
	"context"
	"fmt"
	"time"

	"wheelhouse/internal/domain"
)

// QuoteGateway serves market-data reads.
type QuoteGateway interface {
	// StockQuote returns the current mid, high-of-day, and low-of-day
	// for an equity.
	StockQuote(ctx context.Context, symbol string) (domain.StockQuote, error)

	// OptionChain returns bid/ask quotes for an underlying's call chain
	// with expiries in [from, to], keyed by option symbol.
	OptionChain(ctx context.Context, underlying string, from, to time.Time) (map[string]domain.OptionQuote, error)
}

// OrderGateway serves order reads and writes for one account.
type OrderGateway interface {
	// PlaceOrder submits an order. A non-created response surfaces as a
	// *StatusError.
	PlaceOrder(ctx context.Context, spec domain.OrderSpec) error

	// CancelOrder cancels an open order by its broker-assigned ID.
	CancelOrder(ctx context.Context, orderID string) error

	// ListOrders returns the account's orders entered on the given
	// trading day with the given status and leg asset type, keyed by
	// order ID.
	ListOrders(ctx context.Context, day time.Time, status domain.OrderStatus, assetType domain.AssetType) (map[string]domain.OpenOrder, error)
}

// AccountGateway serves account-level reads.
type AccountGateway interface {
	// Balance returns the account's current liquidation value.
	Balance(ctx context.Context) (float64, error)

	// EquityPositions returns available buying power and the share
	// counts held for the requested symbols. Symbols without a position
	// report zero shares.
	EquityPositions(ctx context.Context, symbols ...string) (float64, map[string]int, error)

	// OptionPositions returns the short option positions written
	// against the underlying, keyed by option symbol.
	OptionPositions(ctx context.Context, underlying string) (map[string]domain.OptionPosition, error)
}

// StatusError reports a gateway call that completed with an unexpected HTTP
// status. Engines log it and drop the action for the cycle.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}
