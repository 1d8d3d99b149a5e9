// Package domain defines the core types shared across the trading system:
// quotes, positions, orders, journal entries, and the option symbol codec.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Instruction identifies the side of an order.
type Instruction string

const (
	InstructionBuy         Instruction = "BUY"
	InstructionSell        Instruction = "SELL"
	InstructionBuyToClose  Instruction = "BUY_TO_CLOSE"
	InstructionSellToOpen  Instruction = "SELL_TO_OPEN"
)

// OrderStatus is the broker-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusWorking  OrderStatus = "WORKING"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// OrderType selects the execution style of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// AssetType identifies the instrument class of an order leg or position.
type AssetType string

const (
	AssetTypeEquity AssetType = "EQUITY"
	AssetTypeOption AssetType = "OPTION"
)

// Duration is how long an order remains eligible for execution.
type Duration string

const (
	DurationDay            Duration = "DAY"
	DurationGoodTillCancel Duration = "GOOD_TILL_CANCEL"
)

// SpecialInstruction carries optional execution constraints.
type SpecialInstruction string

const (
	SpecialInstructionNone      SpecialInstruction = "NONE"
	SpecialInstructionAllOrNone SpecialInstruction = "ALL_OR_NONE"
)

// PositionEffect marks whether an order opens or closes a position.
type PositionEffect string

const (
	PositionEffectOpening PositionEffect = "OPENING"
	PositionEffectClosing PositionEffect = "CLOSING"
)

// StockQuote is a point-in-time equity quote snapshot.
type StockQuote struct {
	Symbol string
	Mid    float64 // midpoint of bid and ask
	High   float64 // high of day
	Low    float64 // low of day
}

// OptionQuote is the bid/ask pair for a single option contract.
type OptionQuote struct {
	Bid float64
	Ask float64
}

// Spread returns ask minus bid.
func (q OptionQuote) Spread() float64 {
	return q.Ask - q.Bid
}

// OptionPosition is a broker-reported short option position.
type OptionPosition struct {
	Symbol      string
	ShortQty    int
	MarketPrice float64 // per-contract price, positive
}

// OpenOrder is one broker-reported order, fetched fresh each cycle and
// never cached beyond it.
type OpenOrder struct {
	OrderID     string
	Symbol      string
	Instruction Instruction
	Quantity    int
	Price       float64
	Status      OrderStatus
}

// OrderSpec describes an order to be placed.
type OrderSpec struct {
	Symbol             string
	OrderType          OrderType
	Instruction        Instruction
	Quantity           int
	AssetType          AssetType
	PositionEffect     PositionEffect
	Price              float64 // ignored for market orders
	Duration           Duration
	SpecialInstruction SpecialInstruction
}

// JournalEntry records one engine-originated order and its last known
// lifecycle status.
type JournalEntry struct {
	Instruction Instruction `json:"instruction"`
	Quantity    int         `json:"quantity"`
	Status      OrderStatus `json:"status"`
}

// PriceTolerance is the tolerance used when comparing broker-reported
// prices against engine targets. Broker prices come back through JSON
// floats, so exact equality is not reliable.
const PriceTolerance = 1e-6

// PriceEqual reports whether two prices match within PriceTolerance,
// scaled like math.isclose with a relative tolerance.
func PriceEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	max := a
	if b > a {
		max = b
	}
	if max < 0 {
		max = -max
	}
	return diff <= PriceTolerance*max || diff <= PriceTolerance
}

// ---------------------------------------------------------------------------
// Option symbol codec
// ---------------------------------------------------------------------------

// OptionSymbol is the decoded form of an OCC-style option symbol as used by
// the Schwab API: a 6-character space-padded underlying, a yymmdd expiry,
// a C/P flag, and the strike price in mills (thousandths of a dollar),
// e.g. "XYZ   250829C00042000".
type OptionSymbol struct {
	Underlying string
	Expiry     string // yymmdd
	Call       bool
	StrikeMill int64 // strike * 1000
}

// ParseOptionSymbol decodes a 21-character option symbol.
func ParseOptionSymbol(s string) (OptionSymbol, error) {
	if len(s) != 21 {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: want 21 characters, got %d", s, len(s))
	}
	underlying := strings.TrimRight(s[0:6], " ")
	if underlying == "" {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: empty underlying", s)
	}
	expiry := s[6:12]
	if _, err := time.Parse("060102", expiry); err != nil {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: bad expiry: %w", s, err)
	}
	var call bool
	switch s[12] {
	case 'C':
		call = true
	case 'P':
		call = false
	default:
		return OptionSymbol{}, fmt.Errorf("option symbol %q: bad contract type %q", s, s[12])
	}
	mills, err := strconv.ParseInt(s[13:21], 10, 64)
	if err != nil {
		return OptionSymbol{}, fmt.Errorf("option symbol %q: bad strike: %w", s, err)
	}
	return OptionSymbol{
		Underlying: underlying,
		Expiry:     expiry,
		Call:       call,
		StrikeMill: mills,
	}, nil
}

// Strike returns the strike price in dollars.
func (o OptionSymbol) Strike() float64 {
	return float64(o.StrikeMill) / 1000.0
}

// ExpiryDate returns the expiry as a time.Time at midnight in loc.
func (o OptionSymbol) ExpiryDate(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("060102", o.Expiry, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry %q: %w", o.Expiry, err)
	}
	return t, nil
}

// String re-encodes the symbol in the 21-character wire form.
func (o OptionSymbol) String() string {
	cp := byte('P')
	if o.Call {
		cp = 'C'
	}
	return fmt.Sprintf("%-6s%s%c%08d", o.Underlying, o.Expiry, cp, o.StrikeMill)
}

// WithStrike returns a copy of the symbol with a new whole-dollar strike.
// Any sub-dollar portion of the original strike carries over unchanged.
func (o OptionSymbol) WithStrike(strike int) OptionSymbol {
	out := o
	out.StrikeMill = int64(strike)*1000 + o.StrikeMill%1000
	return out
}

// WithExpiry returns a copy of the symbol with a new yymmdd expiry.
func (o OptionSymbol) WithExpiry(expiry string) OptionSymbol {
	out := o
	out.Expiry = expiry
	return out
}
