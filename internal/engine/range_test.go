package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"wheelhouse/internal/calendar"
	"wheelhouse/internal/domain"
	"wheelhouse/internal/rangetable"
)

const testRangeConf = `shares: 100
max_shares: 600
funding_ticker: BIL
threshold, buy, sell
100, 44.00, 44.40
200, 43.50, 43.90
300, 43.00, 43.40
400, 42.50, 42.90
500, 42.00, 42.40
600, 41.50, 41.90
`

func testTable(t *testing.T) *rangetable.Table {
	t.Helper()
	tbl, err := rangetable.Parse(strings.NewReader(testRangeConf))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tbl
}

func TestPlanRangeOrders(t *testing.T) {
	tbl := testTable(t)

	tests := []struct {
		name  string
		price float64
		owned int
		want  []RangeOrder
	}{
		{
			name:  "flat at top of range falls back to one increment",
			price: 44.00,
			owned: 0,
			want:  []RangeOrder{{domain.InstructionBuy, 100, 44.00}},
		},
		{
			name:  "flat mid range buys up to the ceiling",
			price: 42.60,
			owned: 0,
			want:  []RangeOrder{{domain.InstructionBuy, 300, 43.00}},
		},
		{
			name:  "flat below all buy prices buys the cap",
			price: 41.00,
			owned: 0,
			want:  []RangeOrder{{domain.InstructionBuy, 600, 41.50}},
		},
		{
			name:  "at cap with price above all sells dumps everything",
			price: 44.50,
			owned: 600,
			want:  []RangeOrder{{domain.InstructionSell, 600, 44.40}},
		},
		{
			name:  "at cap mid range sells down to the floor",
			price: 43.60,
			owned: 600,
			want:  []RangeOrder{{domain.InstructionSell, 300, 43.40}},
		},
		{
			name:  "at cap near bottom falls back to one increment",
			price: 42.00,
			owned: 600,
			want:  []RangeOrder{{domain.InstructionSell, 100, 41.90}},
		},
		{
			name:  "partial position plans both sides",
			price: 43.60,
			owned: 500,
			want: []RangeOrder{
				{domain.InstructionSell, 200, 43.40},
				{domain.InstructionBuy, 100, 41.50},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PlanRangeOrders(tbl, tc.price, tc.owned)
			if err != nil {
				t.Fatalf("PlanRangeOrders: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d orders %v, want %d", len(got), got, len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("order %d: got %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func newRangeTestEngine(t *testing.T, quotes *fakeQuotes, orders *fakeOrders, account *fakeAccount) *RangeEngine {
	t.Helper()
	e := NewRangeEngine(quotes, orders, account, calendar.NewStaticCalendar(), testTable(t), "XYZ")
	e.Now = fixedClock("2026-03-04 10:30")
	e.PollInterval = 0
	return e
}

func TestRangeCycleIdempotent(t *testing.T) {
	quotes := &fakeQuotes{stocks: map[string]domain.StockQuote{
		"XYZ": {Symbol: "XYZ", Mid: 43.60, High: 43.80, Low: 43.10},
	}}
	orders := &fakeOrders{listed: map[string]domain.OpenOrder{
		"1": {OrderID: "1", Symbol: "XYZ", Instruction: domain.InstructionSell, Quantity: 200, Price: 43.40, Status: domain.OrderStatusWorking},
		"2": {OrderID: "2", Symbol: "XYZ", Instruction: domain.InstructionBuy, Quantity: 100, Price: 41.50, Status: domain.OrderStatusWorking},
	}}
	account := &fakeAccount{buyingPower: 50000, shares: map[string]int{"XYZ": 500}}

	e := newRangeTestEngine(t, quotes, orders, account)
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(orders.placed) != 0 {
		t.Errorf("placed %d orders on an already-converged book: %v", len(orders.placed), orders.placed)
	}
	if len(orders.canceled) != 0 {
		t.Errorf("canceled %v on an already-converged book", orders.canceled)
	}
}

func TestRangeCycleCancelsStaleBuy(t *testing.T) {
	quotes := &fakeQuotes{stocks: map[string]domain.StockQuote{
		"XYZ": {Symbol: "XYZ", Mid: 43.60, High: 43.80, Low: 43.10},
	}}
	orders := &fakeOrders{listed: map[string]domain.OpenOrder{
		"1": {OrderID: "1", Symbol: "XYZ", Instruction: domain.InstructionSell, Quantity: 200, Price: 43.40, Status: domain.OrderStatusWorking},
		"7": {OrderID: "7", Symbol: "XYZ", Instruction: domain.InstructionBuy, Quantity: 100, Price: 42.00, Status: domain.OrderStatusWorking},
	}}
	account := &fakeAccount{buyingPower: 50000, shares: map[string]int{"XYZ": 500}}

	e := newRangeTestEngine(t, quotes, orders, account)
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(orders.canceled) != 1 || orders.canceled[0] != "7" {
		t.Fatalf("canceled = %v, want [7]", orders.canceled)
	}
	placed := orders.placements("XYZ")
	if len(placed) != 1 {
		t.Fatalf("placed %d XYZ orders, want the replacement buy: %v", len(placed), placed)
	}
	buy := placed[0]
	if buy.Instruction != domain.InstructionBuy || buy.Quantity != 100 || buy.Price != 41.50 {
		t.Errorf("replacement buy = %+v", buy)
	}
	if buy.SpecialInstruction != domain.SpecialInstructionAllOrNone {
		t.Errorf("buy special instruction = %q, want ALL_OR_NONE", buy.SpecialInstruction)
	}
}

func TestRangeCycleFundsBuy(t *testing.T) {
	quotes := &fakeQuotes{stocks: map[string]domain.StockQuote{
		"XYZ": {Symbol: "XYZ", Mid: 42.60, High: 42.80, Low: 42.10},
		"BIL": {Symbol: "BIL", Mid: 91.45, High: 91.50, Low: 91.40},
	}}
	orders := &fakeOrders{}
	account := &fakeAccount{
		// Cycle read, then two settlement polls.
		buyingPowerSeq: []float64{1000, 500, 13000},
		shares:         map[string]int{"XYZ": 0, "BIL": 200},
	}

	e := newRangeTestEngine(t, quotes, orders, account)
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(orders.placed) != 2 {
		t.Fatalf("placed = %v, want funding sell then buy", orders.placed)
	}

	fund := orders.placed[0]
	if fund.Symbol != "BIL" || fund.Instruction != domain.InstructionSell || fund.OrderType != domain.OrderTypeMarket {
		t.Errorf("funding order = %+v", fund)
	}
	// shortfall 300*43.00 - 1000 = 11900; 11900/91.50 rounds up to 131.
	if fund.Quantity != 131 {
		t.Errorf("funding shares = %d, want 131", fund.Quantity)
	}
	if fund.PositionEffect != domain.PositionEffectClosing {
		t.Errorf("funding position effect = %q", fund.PositionEffect)
	}

	buy := orders.placed[1]
	if buy.Symbol != "XYZ" || buy.Instruction != domain.InstructionBuy || buy.Quantity != 300 || buy.Price != 43.00 {
		t.Errorf("buy = %+v", buy)
	}
}

func TestRangeCycleAbandonsUnfundedBuy(t *testing.T) {
	quotes := &fakeQuotes{stocks: map[string]domain.StockQuote{
		"XYZ": {Symbol: "XYZ", Mid: 42.60, High: 42.80, Low: 42.10},
		"BIL": {Symbol: "BIL", Mid: 91.45, High: 91.50, Low: 91.40},
	}}
	orders := &fakeOrders{}
	account := &fakeAccount{buyingPower: 1000, shares: map[string]int{"XYZ": 0, "BIL": 200}}

	e := newRangeTestEngine(t, quotes, orders, account)
	e.PollAttempts = 2
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(orders.placed) != 1 {
		t.Fatalf("placed = %v, want only the funding sell", orders.placed)
	}
	if got := orders.placements("XYZ"); len(got) != 0 {
		t.Errorf("buy placed without settled funding: %v", got)
	}
}

func TestRangeCycleSweepsAtClose(t *testing.T) {
	quotes := &fakeQuotes{stocks: map[string]domain.StockQuote{
		"XYZ": {Symbol: "XYZ", Mid: 43.60, High: 43.80, Low: 43.10},
		"BIL": {Symbol: "BIL", Mid: 91.45, High: 91.50, Low: 91.40},
	}}
	orders := &fakeOrders{listed: map[string]domain.OpenOrder{
		"1": {OrderID: "1", Symbol: "XYZ", Instruction: domain.InstructionSell, Quantity: 200, Price: 43.40, Status: domain.OrderStatusWorking},
		"2": {OrderID: "2", Symbol: "XYZ", Instruction: domain.InstructionBuy, Quantity: 100, Price: 41.50, Status: domain.OrderStatusWorking},
	}}
	account := &fakeAccount{buyingPower: 1000, shares: map[string]int{"XYZ": 500}}

	e := newRangeTestEngine(t, quotes, orders, account)
	e.Now = fixedClock("2026-03-04 15:59")
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	placed := orders.placements("BIL")
	if len(placed) != 1 {
		t.Fatalf("BIL placements = %v, want one sweep buy", placed)
	}
	sweep := placed[0]
	if sweep.Instruction != domain.InstructionBuy || sweep.OrderType != domain.OrderTypeMarket {
		t.Errorf("sweep order = %+v", sweep)
	}
	// 1000 / 91.50 truncates to 10.
	if sweep.Quantity != 10 {
		t.Errorf("sweep shares = %d, want 10", sweep.Quantity)
	}
}

func TestRangeCycleHoliday(t *testing.T) {
	quotes := &fakeQuotes{stocks: map[string]domain.StockQuote{}}
	orders := &fakeOrders{}
	account := &fakeAccount{}

	e := NewRangeEngine(quotes, orders, account,
		calendar.NewStaticCalendar("2026-03-04"), testTable(t), "XYZ")
	e.Now = fixedClock("2026-03-04 10:30")

	err := e.RunCycle(context.Background())
	if !errors.Is(err, ErrMarketHoliday) {
		t.Fatalf("err = %v, want ErrMarketHoliday", err)
	}
	if len(orders.placed) != 0 {
		t.Errorf("orders placed on a holiday: %v", orders.placed)
	}
}
