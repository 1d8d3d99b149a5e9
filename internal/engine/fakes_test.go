package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"wheelhouse/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQuotes serves canned stock quotes and option chains.
type fakeQuotes struct {
	stocks map[string]domain.StockQuote
	chain  map[string]domain.OptionQuote
}

func (f *fakeQuotes) StockQuote(_ context.Context, symbol string) (domain.StockQuote, error) {
	q, ok := f.stocks[symbol]
	if !ok {
		return domain.StockQuote{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (f *fakeQuotes) OptionChain(_ context.Context, _ string, _, _ time.Time) (map[string]domain.OptionQuote, error) {
	return f.chain, nil
}

// fakeOrders records placements and cancels and serves scripted order lists.
type fakeOrders struct {
	placed   []domain.OrderSpec
	canceled []string
	placeErr error

	// orders returned by ListOrders, filtered by status.
	listed map[string]domain.OpenOrder
}

func (f *fakeOrders) PlaceOrder(_ context.Context, spec domain.OrderSpec) error {
	if f.placeErr != nil {
		return f.placeErr
	}
	f.placed = append(f.placed, spec)
	return nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	if oo, ok := f.listed[orderID]; ok {
		oo.Status = domain.OrderStatusCanceled
		f.listed[orderID] = oo
	}
	return nil
}

func (f *fakeOrders) ListOrders(_ context.Context, _ time.Time, status domain.OrderStatus, _ domain.AssetType) (map[string]domain.OpenOrder, error) {
	out := make(map[string]domain.OpenOrder)
	for id, oo := range f.listed {
		if oo.Status == status {
			out[id] = oo
		}
	}
	return out, nil
}

// placements returns the specs placed for one symbol, in placement order.
func (f *fakeOrders) placements(symbol string) []domain.OrderSpec {
	var out []domain.OrderSpec
	for _, s := range f.placed {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out
}

// fakeAccount serves scripted balances and positions. Successive
// EquityPositions calls pop buyingPowerSeq when it is non-empty, so tests
// can simulate funding settlement.
type fakeAccount struct {
	buyingPower    float64
	buyingPowerSeq []float64
	shares         map[string]int
	options        map[string]domain.OptionPosition
}

func (f *fakeAccount) Balance(_ context.Context) (float64, error) {
	return f.buyingPower, nil
}

func (f *fakeAccount) EquityPositions(_ context.Context, symbols ...string) (float64, map[string]int, error) {
	bp := f.buyingPower
	if len(f.buyingPowerSeq) > 0 {
		bp = f.buyingPowerSeq[0]
		f.buyingPowerSeq = f.buyingPowerSeq[1:]
	}
	out := make(map[string]int, len(symbols))
	for _, s := range symbols {
		out[s] = f.shares[s]
	}
	return bp, out, nil
}

func (f *fakeAccount) OptionPositions(_ context.Context, _ string) (map[string]domain.OptionPosition, error) {
	out := make(map[string]domain.OptionPosition, len(f.options))
	for k, v := range f.options {
		out[k] = v
	}
	return out, nil
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}
