// Package engine implements the decision-and-reconciliation core: the range
// trading engine, the covered-call engine, and the capacity arithmetic both
// share. Each cycle is a pure function of persisted state and fresh gateway
// reads; nothing survives in memory between invocations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wheelhouse/internal/broker"
	"wheelhouse/internal/calendar"
	"wheelhouse/internal/domain"
	"wheelhouse/internal/rangetable"
	"wheelhouse/internal/util"
)

// ErrMarketHoliday signals that the cycle ran on a market holiday and did
// nothing.
var ErrMarketHoliday = errors.New("market holiday, no trading today")

// RangeOrder is one target order the range planner wants on the book.
type RangeOrder struct {
	Instruction domain.Instruction
	Quantity    int
	Price       float64
}

// RangeEngine converges an equity position toward the range table: it plans
// at most one BUY and one SELL from current price and holdings, drops plan
// entries already working at the broker, and funds buys by liquidating the
// funding ticker when buying power falls short.
type RangeEngine struct {
	quotes  broker.QuoteGateway
	orders  broker.OrderGateway
	account broker.AccountGateway
	cal     calendar.Calendar
	table   *rangetable.Table
	symbol  string
	log     *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
	// SweepTime is the HHMM minute at which remaining buying power is
	// swept into the funding ticker.
	SweepTime int
	// PollAttempts and PollInterval bound the funding-settlement poll.
	PollAttempts int
	PollInterval time.Duration
}

// NewRangeEngine wires a range engine for one symbol.
func NewRangeEngine(q broker.QuoteGateway, o broker.OrderGateway, a broker.AccountGateway, cal calendar.Calendar, table *rangetable.Table, symbol string) *RangeEngine {
	return &RangeEngine{
		quotes:       q,
		orders:       o,
		account:      a,
		cal:          cal,
		table:        table,
		symbol:       symbol,
		log:          slog.Default().With("component", "range", "symbol", symbol),
		Now:          time.Now,
		SweepTime:    1559,
		PollAttempts: 7,
		PollInterval: 5 * time.Second,
	}
}

// RunCycle executes one decision cycle.
func (e *RangeEngine) RunCycle(ctx context.Context) error {
	now := e.Now()

	holiday, err := e.cal.IsMarketHoliday(ctx, now)
	if err != nil {
		return fmt.Errorf("holiday lookup: %w", err)
	}
	if holiday {
		return ErrMarketHoliday
	}

	open, err := e.orders.ListOrders(ctx, now, domain.OrderStatusWorking, domain.AssetTypeEquity)
	if err != nil {
		return err
	}

	buyingPower, shares, err := e.account.EquityPositions(ctx, e.symbol, e.table.FundingTicker)
	if err != nil {
		return err
	}
	owned := shares[e.symbol]

	quote, err := e.quotes.StockQuote(ctx, e.symbol)
	if err != nil {
		return err
	}
	e.log.Info("cycle state",
		"price", quote.Mid, "high", quote.High, "low", quote.Low,
		"owned", owned, "funding_shares", shares[e.table.FundingTicker],
		"buying_power", buyingPower)

	plan, err := PlanRangeOrders(e.table, quote.Mid, owned)
	if err != nil {
		return fmt.Errorf("planning orders: %w", err)
	}
	plan = dropWorkingMatches(plan, e.symbol, open)

	for _, ord := range plan {
		switch ord.Instruction {
		case domain.InstructionBuy:
			e.cancelStaleBuys(ctx, ord, open)
			e.placeBuy(ctx, ord, buyingPower)
		case domain.InstructionSell:
			e.placeSell(ctx, ord)
		}
	}

	if hhmm(now) == e.SweepTime {
		e.sweep(ctx)
	}
	return nil
}

// PlanRangeOrders computes the target orders for the current price and
// holdings: a single BUY when flat, a single SELL at or above the share
// cap, and a SELL/BUY pair for a partial position. Each side falls back to
// a one-increment trade at the row matching current holdings when no
// threshold trade qualifies.
func PlanRangeOrders(t *rangetable.Table, currentPrice float64, ownedShares int) ([]RangeOrder, error) {
	inc := t.TradeShares

	switch {
	case ownedShares == 0:
		buy, err := planBuy(t, currentPrice, 0)
		if err != nil {
			return nil, err
		}
		return []RangeOrder{buy}, nil

	case ownedShares >= t.MaxShares:
		// Sell down relative to the cap, not current holdings.
		target := 0
		for _, row := range t.Entries() {
			if currentPrice <= row.SellPrice {
				target = row.Threshold + inc
			}
		}
		qty := t.MaxShares - target
		if qty > inc {
			priceRow := target
			if target == 0 {
				priceRow = inc
			}
			row, ok := t.ByThreshold(priceRow)
			if !ok {
				return nil, fmt.Errorf("range table missing row %d", priceRow)
			}
			return []RangeOrder{{Instruction: domain.InstructionSell, Quantity: qty, Price: row.SellPrice}}, nil
		}
		row, ok := t.ByThreshold(t.MaxShares)
		if !ok {
			return nil, fmt.Errorf("range table missing row %d", t.MaxShares)
		}
		return []RangeOrder{{Instruction: domain.InstructionSell, Quantity: inc, Price: row.SellPrice}}, nil

	default:
		sell, err := planPartialSell(t, currentPrice, ownedShares)
		if err != nil {
			return nil, err
		}
		buy, err := planBuy(t, currentPrice, ownedShares)
		if err != nil {
			return nil, err
		}
		return []RangeOrder{sell, buy}, nil
	}
}

// planBuy finds the first threshold whose buy price is at or below the
// current price and buys up to one increment shy of it.
func planBuy(t *rangetable.Table, currentPrice float64, owned int) (RangeOrder, error) {
	inc := t.TradeShares
	target := t.MaxShares
	for _, row := range t.Entries() {
		if currentPrice >= row.BuyPrice {
			target = row.Threshold - inc
			break
		}
	}

	qty := target - owned
	if qty > inc {
		row, ok := t.ByThreshold(target)
		if !ok {
			return RangeOrder{}, fmt.Errorf("range table missing row %d", target)
		}
		return RangeOrder{Instruction: domain.InstructionBuy, Quantity: qty, Price: row.BuyPrice}, nil
	}
	row, ok := t.ByThreshold(owned + inc)
	if !ok {
		return RangeOrder{}, fmt.Errorf("range table missing row %d", owned+inc)
	}
	return RangeOrder{Instruction: domain.InstructionBuy, Quantity: inc, Price: row.BuyPrice}, nil
}

// planPartialSell finds the highest threshold whose sell price is at or
// above the current price and sells down to one increment past it.
func planPartialSell(t *rangetable.Table, currentPrice float64, owned int) (RangeOrder, error) {
	inc := t.TradeShares
	target := 0
	for _, row := range t.Entries() {
		if currentPrice <= row.SellPrice {
			target = row.Threshold + inc
		}
	}

	qty := owned - target
	if qty > inc {
		priceRow := target
		if target == 0 {
			priceRow = inc
		}
		row, ok := t.ByThreshold(priceRow)
		if !ok {
			return RangeOrder{}, fmt.Errorf("range table missing row %d", priceRow)
		}
		return RangeOrder{Instruction: domain.InstructionSell, Quantity: qty, Price: row.SellPrice}, nil
	}
	row, ok := t.ByThreshold(owned)
	if !ok {
		return RangeOrder{}, fmt.Errorf("range table missing row %d", owned)
	}
	return RangeOrder{Instruction: domain.InstructionSell, Quantity: inc, Price: row.SellPrice}, nil
}

// dropWorkingMatches removes plan entries that already have an equivalent
// WORKING order on the book. Prices are compared with tolerance; when more
// than one open order matches on symbol, instruction, and quantity, the one
// with the closest price decides.
func dropWorkingMatches(plan []RangeOrder, symbol string, open map[string]domain.OpenOrder) []RangeOrder {
	var kept []RangeOrder
	for _, ord := range plan {
		best, found := closestMatch(ord, symbol, open)
		if found && domain.PriceEqual(ord.Price, best.Price) {
			continue
		}
		kept = append(kept, ord)
	}
	return kept
}

func closestMatch(ord RangeOrder, symbol string, open map[string]domain.OpenOrder) (domain.OpenOrder, bool) {
	var (
		best     domain.OpenOrder
		bestDiff float64
		found    bool
	)
	for _, oo := range open {
		if oo.Symbol != symbol || oo.Instruction != ord.Instruction || oo.Quantity != ord.Quantity {
			continue
		}
		diff := oo.Price - ord.Price
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < bestDiff {
			best, bestDiff, found = oo, diff, true
		}
	}
	return best, found
}

// cancelStaleBuys cancels working buy orders for the symbol that match the
// target quantity but not its price, so the replacement can go on the book.
func (e *RangeEngine) cancelStaleBuys(ctx context.Context, ord RangeOrder, open map[string]domain.OpenOrder) {
	for _, id := range sortedKeys(open) {
		oo := open[id]
		if oo.Symbol != e.symbol || oo.Instruction != ord.Instruction || oo.Quantity != ord.Quantity {
			continue
		}
		if err := e.orders.CancelOrder(ctx, id); err != nil {
			e.log.Error("canceling stale buy failed", "order_id", id, "error", err)
			continue
		}
		e.log.Info("canceled stale buy", "order_id", id, "price", oo.Price)
	}
}

// placeBuy places the target buy, first raising buying power by selling the
// funding ticker when the notional cost exceeds what is available. The buy
// is abandoned for the cycle if funding does not settle within the poll
// budget.
func (e *RangeEngine) placeBuy(ctx context.Context, ord RangeOrder, buyingPower float64) {
	cost := float64(ord.Quantity) * ord.Price
	shortfall := cost - buyingPower

	if shortfall > 0 {
		fq, err := e.quotes.StockQuote(ctx, e.table.FundingTicker)
		if err != nil {
			e.log.Error("funding quote failed", "error", err)
			return
		}
		sellShares := FundingShares(shortfall, fq.High)
		e.log.Info("selling funding ticker to raise buying power",
			"ticker", e.table.FundingTicker, "shares", sellShares)

		err = e.orders.PlaceOrder(ctx, domain.OrderSpec{
			Symbol:         e.table.FundingTicker,
			OrderType:      domain.OrderTypeMarket,
			Instruction:    domain.InstructionSell,
			Quantity:       sellShares,
			AssetType:      domain.AssetTypeEquity,
			PositionEffect: domain.PositionEffectClosing,
		})
		if err != nil {
			e.log.Error("funding sell failed", "error", err)
			return
		}

		err = util.Poll(ctx, e.PollAttempts, e.PollInterval, func() (bool, error) {
			bp, _, err := e.account.EquityPositions(ctx, e.symbol, e.table.FundingTicker)
			if err != nil {
				return false, err
			}
			return bp >= cost, nil
		})
		if err != nil {
			e.log.Warn("funding not settled, buy abandoned for this cycle", "error", err)
			return
		}
	}

	err := e.orders.PlaceOrder(ctx, domain.OrderSpec{
		Symbol:             e.symbol,
		OrderType:          domain.OrderTypeLimit,
		Instruction:        domain.InstructionBuy,
		Quantity:           ord.Quantity,
		AssetType:          domain.AssetTypeEquity,
		PositionEffect:     domain.PositionEffectOpening,
		Price:              ord.Price,
		SpecialInstruction: domain.SpecialInstructionAllOrNone,
	})
	if err != nil {
		e.log.Error("buy failed", "quantity", ord.Quantity, "price", ord.Price, "error", err)
		return
	}
	e.log.Info("buy placed", "quantity", ord.Quantity, "price", ord.Price)
}

func (e *RangeEngine) placeSell(ctx context.Context, ord RangeOrder) {
	err := e.orders.PlaceOrder(ctx, domain.OrderSpec{
		Symbol:             e.symbol,
		OrderType:          domain.OrderTypeLimit,
		Instruction:        domain.InstructionSell,
		Quantity:           ord.Quantity,
		AssetType:          domain.AssetTypeEquity,
		PositionEffect:     domain.PositionEffectOpening,
		Price:              ord.Price,
		SpecialInstruction: domain.SpecialInstructionAllOrNone,
	})
	if err != nil {
		e.log.Error("sell failed", "quantity", ord.Quantity, "price", ord.Price, "error", err)
		return
	}
	e.log.Info("sell placed", "quantity", ord.Quantity, "price", ord.Price)
}

// sweep parks any remaining buying power in the funding ticker with a
// market buy at the end of the trading day.
func (e *RangeEngine) sweep(ctx context.Context) {
	bp, _, err := e.account.EquityPositions(ctx, e.symbol, e.table.FundingTicker)
	if err != nil {
		e.log.Error("sweep balance read failed", "error", err)
		return
	}
	fq, err := e.quotes.StockQuote(ctx, e.table.FundingTicker)
	if err != nil {
		e.log.Error("sweep quote failed", "error", err)
		return
	}

	shares := SweepShares(bp, fq.High)
	if shares <= 0 {
		return
	}
	err = e.orders.PlaceOrder(ctx, domain.OrderSpec{
		Symbol:         e.table.FundingTicker,
		OrderType:      domain.OrderTypeMarket,
		Instruction:    domain.InstructionBuy,
		Quantity:       shares,
		AssetType:      domain.AssetTypeEquity,
		PositionEffect: domain.PositionEffectOpening,
	})
	if err != nil {
		e.log.Error("sweep buy failed", "shares", shares, "error", err)
		return
	}
	e.log.Info("swept buying power into funding ticker", "shares", shares, "buying_power", bp)
}

func hhmm(t time.Time) int {
	return t.Hour()*100 + t.Minute()
}
