package engine

import (
	"wheelhouse/internal/domain"
	"wheelhouse/internal/store"
)

// TotalContracts recomputes the number of contracts in play from fresh
// reads: every short contract currently held, plus every WORKING broker
// order the journal recognises as engine-owned and still WORKING. It is
// derived state, recomputed each cycle and never stored.
func TotalContracts(positions map[string]domain.OptionPosition, openOrders map[string]domain.OpenOrder, journal *store.Journal) int {
	total := 0
	for _, o := range openOrders {
		if journal.Owns(o, domain.OrderStatusWorking) {
			total += o.Quantity
		}
	}
	for _, p := range positions {
		total += p.ShortQty
	}
	return total
}

// ThrottleByResistance scales the configured contract count down as price
// approaches the resistance level. The thirds of the percent threshold form
// three tiers: full size below one third, 66% between one and two thirds,
// 33% between two thirds and the threshold, and nothing beyond it.
func ThrottleByResistance(contracts int, percentBelow, percentThreshold float64) int {
	levelOne := percentThreshold * 0.3333333
	levelTwo := percentThreshold * 0.6666667

	switch {
	case percentBelow > percentThreshold:
		return 0
	case percentBelow > levelTwo:
		return int(float64(contracts)*0.33) + 1
	case percentBelow > levelOne:
		return int(float64(contracts)*0.66) + 1
	default:
		return contracts
	}
}

// ClampToHeadroom applies the contract ceiling: with no headroom left the
// trade size drops to zero, otherwise it shrinks to fit.
func ClampToHeadroom(contracts, maxContracts, totalContracts int) int {
	headroom := maxContracts - totalContracts
	if headroom <= 0 {
		return 0
	}
	if headroom < contracts {
		return headroom
	}
	return contracts
}
