package engine

import (
	"github.com/shopspring/decimal"
)

// Limit prices sit one third of the way into the spread: closes give up a
// third from the ask, opens demand a third above it. All results are
// cent-exact; the decimal arithmetic keeps repeated one-cent reprices from
// drifting the way float subtraction would.

var spreadFraction = decimal.NewFromFloat(0.33)

// CloseLimitPrice returns ask - 0.33*(ask-bid), rounded to the cent.
func CloseLimitPrice(bid, ask float64) float64 {
	a := decimal.NewFromFloat(ask)
	b := decimal.NewFromFloat(bid)
	return a.Sub(a.Sub(b).Mul(spreadFraction)).Round(2).InexactFloat64()
}

// OpenLimitPrice returns ask + 0.33*(ask-bid), rounded to the cent.
func OpenLimitPrice(bid, ask float64) float64 {
	a := decimal.NewFromFloat(ask)
	b := decimal.NewFromFloat(bid)
	return a.Add(a.Sub(b).Mul(spreadFraction)).Round(2).InexactFloat64()
}

// RepriceDown lowers a limit price by one cent.
func RepriceDown(price float64) float64 {
	return decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(0.01)).Round(2).InexactFloat64()
}

// FundingShares sizes the market sell that raises buying power for a buy:
// the shortfall divided by the funding ticker's high of day, truncated,
// plus one extra share of headroom.
func FundingShares(shortfall, highOfDay float64) int {
	if highOfDay <= 0 {
		return 0
	}
	return int(shortfall/highOfDay) + 1
}

// SweepShares sizes the end-of-day market buy that parks remaining buying
// power in the funding ticker.
func SweepShares(buyingPower, highOfDay float64) int {
	if highOfDay <= 0 {
		return 0
	}
	return int(buyingPower / highOfDay)
}
