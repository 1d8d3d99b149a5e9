package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"wheelhouse/internal/broker"
	"wheelhouse/internal/calendar"
	"wheelhouse/internal/config"
	"wheelhouse/internal/domain"
	"wheelhouse/internal/store"
	"wheelhouse/internal/util"
)

// buybackPrice is the standing good-till-cancel bid used to reclaim a filled
// short call for next to nothing.
const buybackPrice = 0.01

// rollSearchWindow is how many whole-dollar strikes above the minimum roll
// strike the next-day search walks down from.
const rollSearchWindow = 10

// OptionEngine sells covered calls against one underlying and manages their
// lifecycle: closing and rolling breached positions, replacing filled
// contracts, and opening new ones sized by the resistance throttle. All
// position and order state is read fresh each cycle; only the day's journal
// and the resistance level persist.
type OptionEngine struct {
	quotes     broker.QuoteGateway
	orders     broker.OrderGateway
	account    broker.AccountGateway
	cal        calendar.Calendar
	settings   *config.CallSettings
	resistance *store.ResistanceFile
	dataDir    string
	underlying string
	// percentThreshold is how far below resistance, in percent, the price
	// may sit before selling stops entirely.
	percentThreshold float64
	log              *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
	// ClosePollAttempts and ClosePollInterval bound the wait for a
	// breached position's closing order to fill before rolling.
	ClosePollAttempts int
	ClosePollInterval time.Duration
	// RollPollAttempts and RollPollInterval bound the fill-or-reprice
	// loop on the rolled position's opening order.
	RollPollAttempts int
	RollPollInterval time.Duration
	// ExpirySweepTime is the HHMM minute from which same-day expiries are
	// bought back regardless of price.
	ExpirySweepTime int
}

// NewOptionEngine wires a covered-call engine for one underlying.
func NewOptionEngine(q broker.QuoteGateway, o broker.OrderGateway, a broker.AccountGateway,
	cal calendar.Calendar, settings *config.CallSettings, resistance *store.ResistanceFile,
	dataDir, underlying string, percentThreshold float64) *OptionEngine {
	return &OptionEngine{
		quotes:           q,
		orders:           o,
		account:          a,
		cal:              cal,
		settings:         settings,
		resistance:       resistance,
		dataDir:          dataDir,
		underlying:       underlying,
		percentThreshold: percentThreshold,
		log:              slog.Default().With("component", "calls", "underlying", underlying),

		Now:               time.Now,
		ClosePollAttempts: 7,
		ClosePollInterval: 5 * time.Second,
		RollPollAttempts:  5,
		RollPollInterval:  2 * time.Second,
		ExpirySweepTime:   1610,
	}
}

// callCycle is the working state of a single RunCycle invocation.
type callCycle struct {
	e *OptionEngine

	now   time.Time
	today string // yymmdd
	next  string // yymmdd

	journal *store.Journal
	quote   domain.StockQuote
	chain   map[string]domain.OptionQuote
	working map[string]domain.OpenOrder

	// total is the contracts in play: short positions plus engine-owned
	// working opens. Adjusted as the cycle cancels and rolls.
	total int
}

// RunCycle executes one decision cycle.
func (e *OptionEngine) RunCycle(ctx context.Context) error {
	now := e.Now()

	holiday, err := e.cal.IsMarketHoliday(ctx, now)
	if err != nil {
		return fmt.Errorf("holiday lookup: %w", err)
	}
	if holiday {
		return ErrMarketHoliday
	}
	nextDay, err := calendar.NextTradingDay(ctx, e.cal, now)
	if err != nil {
		return fmt.Errorf("next trading day: %w", err)
	}

	journal, err := store.OpenJournal(e.dataDir, e.underlying, now)
	if err != nil {
		return err
	}

	quote, err := e.quotes.StockQuote(ctx, e.underlying)
	if err != nil {
		return err
	}
	res, err := e.resistance.Update(quote.High)
	if err != nil {
		return err
	}

	chain, err := e.quotes.OptionChain(ctx, e.underlying, now, nextDay)
	if err != nil {
		return err
	}

	percentBelow := 0.0
	if res > 0 {
		percentBelow = (res - quote.Mid) / res * 100
	}
	tradeContracts := ThrottleByResistance(e.settings.Contracts, percentBelow, e.percentThreshold)
	tradingAllowed := percentBelow <= e.percentThreshold

	positions, err := e.account.OptionPositions(ctx, e.underlying)
	if err != nil {
		return err
	}
	working, err := e.orders.ListOrders(ctx, now, domain.OrderStatusWorking, domain.AssetTypeOption)
	if err != nil {
		return err
	}

	c := &callCycle{
		e:       e,
		now:     now,
		today:   now.Format("060102"),
		next:    nextDay.Format("060102"),
		journal: journal,
		quote:   quote,
		chain:   chain,
		working: working,
		total:   TotalContracts(positions, working, journal),
	}
	e.log.Info("cycle state",
		"price", quote.Mid, "resistance", res, "percent_below", percentBelow,
		"positions", len(positions), "working", len(working),
		"total_contracts", c.total, "trade_contracts", tradeContracts,
		"trading_allowed", tradingAllowed)

	for _, sym := range sortedKeys(positions) {
		c.manage(ctx, sym, positions[sym])
	}

	if hhmm(now) > e.settings.TransitionTime {
		c.cancelSameDayOpens(ctx)
	}

	tradeContracts = ClampToHeadroom(tradeContracts, e.settings.MaxContracts, c.total)

	if tradingAllowed {
		c.replaceAndOpen(ctx, tradeContracts)
	}

	return journal.Save()
}

// manage closes a position whose strike the price has breached, or buys back
// a same-day expiry in the closing minutes, and rolls a breached position
// into a higher strike.
func (c *callCycle) manage(ctx context.Context, sym string, pos domain.OptionPosition) {
	parsed, err := domain.ParseOptionSymbol(sym)
	if err != nil {
		c.e.log.Error("unparseable position symbol", "symbol", sym, "error", err)
		return
	}

	breached := c.quote.Mid > parsed.Strike()
	expiring := parsed.Expiry == c.today && hhmm(c.now) >= c.e.ExpirySweepTime
	if !breached && !expiring {
		return
	}

	// Clear any working buyback so the close can replace it.
	for _, id := range sortedKeys(c.working) {
		oo := c.working[id]
		if oo.Symbol != sym || oo.Instruction != domain.InstructionBuyToClose {
			continue
		}
		if err := c.e.orders.CancelOrder(ctx, id); err != nil {
			c.e.log.Error("canceling buyback failed", "order_id", id, "error", err)
			continue
		}
		delete(c.working, id)
	}

	cq, ok := c.chain[sym]
	if !ok {
		c.e.log.Warn("position not in chain, close skipped", "symbol", sym)
		return
	}
	closePrice := CloseLimitPrice(cq.Bid, cq.Ask)

	err = c.e.orders.PlaceOrder(ctx, domain.OrderSpec{
		Symbol:         sym,
		OrderType:      domain.OrderTypeLimit,
		Instruction:    domain.InstructionBuyToClose,
		Quantity:       pos.ShortQty,
		AssetType:      domain.AssetTypeOption,
		PositionEffect: domain.PositionEffectClosing,
		Price:          closePrice,
	})
	if err != nil {
		c.e.log.Error("close failed", "symbol", sym, "error", err)
		return
	}
	c.e.log.Info("closing position", "symbol", sym, "quantity", pos.ShortQty, "price", closePrice)

	if breached {
		c.roll(ctx, parsed, pos, closePrice)
	}
}

// roll waits for the close to fill and re-opens at a higher strike, adding a
// contract when the ceiling allows.
func (c *callCycle) roll(ctx context.Context, closed domain.OptionSymbol, pos domain.OptionPosition, closePrice float64) {
	available := c.e.settings.MaxContracts - c.total - 1
	if available <= 0 {
		c.cancelOwnedOpens(ctx)
		available = c.e.settings.MaxContracts - c.total - 1
	}
	rollQty := pos.ShortQty
	if available > 0 {
		rollQty++
		c.total++
	}

	closedSym := closed.String()
	err := util.Poll(ctx, c.e.ClosePollAttempts, c.e.ClosePollInterval, func() (bool, error) {
		filled, err := c.e.orders.ListOrders(ctx, c.now, domain.OrderStatusFilled, domain.AssetTypeOption)
		if err != nil {
			return false, err
		}
		for _, oo := range filled {
			if oo.Symbol == closedSym && oo.Instruction == domain.InstructionBuyToClose && oo.Quantity == pos.ShortQty {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		c.e.log.Warn("close not filled, roll skipped", "symbol", closedSym, "error", err)
		return
	}

	target, ok := c.rollTarget(closed, closePrice)
	if !ok {
		return
	}
	targetSym := target.String()
	tq, ok := c.chain[targetSym]
	if !ok {
		c.e.log.Warn("roll target not in chain", "symbol", targetSym)
		return
	}

	price := OpenLimitPrice(tq.Bid, tq.Ask)
	if err := c.placeOpen(ctx, targetSym, rollQty, price, domain.DurationDay); err != nil {
		c.e.log.Error("roll open failed", "symbol", targetSym, "error", err)
		return
	}
	c.e.log.Info("rolled position", "from", closedSym, "to", targetSym, "quantity", rollQty, "price", price)

	// Chase the fill, lowering the ask a cent at a time.
	for attempt := 0; attempt < c.e.RollPollAttempts; attempt++ {
		if err := util.Sleep(ctx, c.e.RollPollInterval); err != nil {
			return
		}
		filled, err := c.e.orders.ListOrders(ctx, c.now, domain.OrderStatusFilled, domain.AssetTypeOption)
		if err != nil {
			c.e.log.Error("fill check failed", "error", err)
			return
		}
		if matchOrder(filled, targetSym, domain.InstructionSellToOpen, rollQty) {
			return
		}

		workingNow, err := c.e.orders.ListOrders(ctx, c.now, domain.OrderStatusWorking, domain.AssetTypeOption)
		if err != nil {
			c.e.log.Error("working check failed", "error", err)
			return
		}
		for _, id := range sortedKeys(workingNow) {
			oo := workingNow[id]
			if oo.Symbol == targetSym && oo.Instruction == domain.InstructionSellToOpen {
				if err := c.e.orders.CancelOrder(ctx, id); err != nil {
					c.e.log.Error("reprice cancel failed", "order_id", id, "error", err)
					return
				}
			}
		}
		price = RepriceDown(price)
		if err := c.placeOpen(ctx, targetSym, rollQty, price, domain.DurationDay); err != nil {
			c.e.log.Error("reprice open failed", "symbol", targetSym, "error", err)
			return
		}
		c.e.log.Info("repriced roll", "symbol", targetSym, "price", price)
	}
	c.e.log.Warn("roll not filled, left working", "symbol", targetSym, "price", price)
}

// rollTarget picks the strike the rolled position re-opens at: one dollar
// above the current price on the same expiry, or after the transition time
// the next day's expiry at the highest strike within the search window that
// still bids at least what the close cost.
func (c *callCycle) rollTarget(closed domain.OptionSymbol, closePrice float64) (domain.OptionSymbol, bool) {
	minStrike := int(c.quote.Mid) + 1

	if hhmm(c.now) <= c.e.settings.TransitionTime {
		return closed.WithStrike(minStrike), true
	}

	nextExpiry := closed.WithExpiry(c.next)
	for strike := minStrike + rollSearchWindow; strike >= minStrike; strike-- {
		cand := nextExpiry.WithStrike(strike)
		if cq, ok := c.chain[cand.String()]; ok && cq.Bid >= closePrice {
			return cand, true
		}
	}
	if c.e.settings.RollFallback == config.RollFallbackSkip {
		c.e.log.Warn("no roll strike preserves premium, roll skipped", "from", closed.String())
		return domain.OptionSymbol{}, false
	}
	return nextExpiry.WithStrike(minStrike), true
}

// cancelOwnedOpens cancels the engine's own working opening orders to free
// capacity under the contract ceiling.
func (c *callCycle) cancelOwnedOpens(ctx context.Context) {
	for _, id := range sortedKeys(c.working) {
		oo := c.working[id]
		if oo.Instruction != domain.InstructionSellToOpen || !c.journal.Owns(oo, domain.OrderStatusWorking) {
			continue
		}
		if err := c.e.orders.CancelOrder(ctx, id); err != nil {
			c.e.log.Error("capacity cancel failed", "order_id", id, "error", err)
			continue
		}
		c.journal.SetStatus(oo.Symbol, domain.OrderStatusCanceled)
		c.total -= oo.Quantity
		delete(c.working, id)
		c.e.log.Info("canceled open order for capacity", "symbol", oo.Symbol, "quantity", oo.Quantity)
	}
}

// cancelSameDayOpens withdraws the engine's own unfilled opening orders on
// today's expiry once the day has moved past the transition time.
func (c *callCycle) cancelSameDayOpens(ctx context.Context) {
	for _, id := range sortedKeys(c.working) {
		oo := c.working[id]
		if oo.Instruction != domain.InstructionSellToOpen || !c.journal.Owns(oo, domain.OrderStatusWorking) {
			continue
		}
		parsed, err := domain.ParseOptionSymbol(oo.Symbol)
		if err != nil || parsed.Expiry != c.today {
			continue
		}
		if err := c.e.orders.CancelOrder(ctx, id); err != nil {
			c.e.log.Error("end-of-day cancel failed", "order_id", id, "error", err)
			continue
		}
		c.journal.SetStatus(oo.Symbol, domain.OrderStatusCanceled)
		c.total -= oo.Quantity
		delete(c.working, id)
		c.e.log.Info("canceled same-day open order", "symbol", oo.Symbol)
	}
}

// replaceAndOpen settles the engine's filled opening orders with a standing
// buyback, then sells a new contract: a replacement strike derived from the
// fill, or a fresh pick from the chain when nothing filled.
func (c *callCycle) replaceAndOpen(ctx context.Context, tradeContracts int) {
	filled, err := c.e.orders.ListOrders(ctx, c.now, domain.OrderStatusFilled, domain.AssetTypeOption)
	if err != nil {
		c.e.log.Error("filled list failed", "error", err)
		return
	}

	tradeSymbol := ""
	for _, id := range sortedKeys(filled) {
		oo := filled[id]
		if !c.journal.Owns(oo, domain.OrderStatusWorking) {
			continue
		}
		c.journal.SetStatus(oo.Symbol, domain.OrderStatusFilled)
		c.e.log.Info("open order filled", "symbol", oo.Symbol, "quantity", oo.Quantity, "price", oo.Price)

		err := c.e.orders.PlaceOrder(ctx, domain.OrderSpec{
			Symbol:         oo.Symbol,
			OrderType:      domain.OrderTypeLimit,
			Instruction:    domain.InstructionBuyToClose,
			Quantity:       oo.Quantity,
			AssetType:      domain.AssetTypeOption,
			PositionEffect: domain.PositionEffectClosing,
			Price:          buybackPrice,
			Duration:       domain.DurationGoodTillCancel,
		})
		if err != nil {
			c.e.log.Error("buyback failed", "symbol", oo.Symbol, "error", err)
		}

		tradeSymbol = c.replacementFor(oo.Symbol)
	}

	if tradeSymbol == "" {
		tradeSymbol = c.freshPick()
	}
	if tradeSymbol == "" || tradeContracts <= 0 {
		return
	}

	q, ok := c.chain[tradeSymbol]
	if !ok {
		c.e.log.Warn("trade symbol not in chain", "symbol", tradeSymbol)
		return
	}
	price := q.Ask
	if c.e.settings.LimitPrice > price {
		price = c.e.settings.LimitPrice
	}
	if err := c.placeOpen(ctx, tradeSymbol, tradeContracts, price, domain.DurationDay); err != nil {
		c.e.log.Error("open failed", "symbol", tradeSymbol, "error", err)
		return
	}
	c.journal.Record(tradeSymbol, domain.JournalEntry{
		Instruction: domain.InstructionSellToOpen,
		Quantity:    tradeContracts,
		Status:      domain.OrderStatusWorking,
	})
	c.e.log.Info("sold new contract", "symbol", tradeSymbol, "quantity", tradeContracts, "price", price)
}

// replacementFor derives the follow-on contract after a fill: the next
// whole-dollar strike up on the same expiry, or after the transition time
// the cheapest next-day contract still asking no more than the minimum
// premium.
func (c *callCycle) replacementFor(filledSym string) string {
	parsed, err := domain.ParseOptionSymbol(filledSym)
	if err != nil {
		c.e.log.Error("unparseable filled symbol", "symbol", filledSym, "error", err)
		return ""
	}

	if hhmm(c.now) > c.e.settings.TransitionTime {
		for _, sym := range sortedKeys(c.chain) {
			p, err := domain.ParseOptionSymbol(sym)
			if err != nil {
				continue
			}
			if p.Expiry == c.next && c.chain[sym].Ask <= c.e.settings.MinLimitPrice {
				return sym
			}
		}
		return ""
	}
	return parsed.WithStrike(int(parsed.Strike()) + 1).String()
}

// freshPick selects a brand-new contract when no fill suggested one: the
// highest strike on the target expiry whose bid still clears the minimum
// premium. At most one new symbol per expiry per day goes in the journal.
func (c *callCycle) freshPick() string {
	tradeDate := c.today
	if hhmm(c.now) > c.e.settings.TransitionTime {
		tradeDate = c.next
	}
	if c.journal.HasExpiry(tradeDate) {
		return ""
	}

	pick := ""
	for _, sym := range sortedKeys(c.chain) {
		p, err := domain.ParseOptionSymbol(sym)
		if err != nil {
			continue
		}
		if p.Expiry == tradeDate && c.chain[sym].Bid >= c.e.settings.MinLimitPrice {
			pick = sym
		}
	}
	return pick
}

func (c *callCycle) placeOpen(ctx context.Context, symbol string, quantity int, price float64, duration domain.Duration) error {
	return c.e.orders.PlaceOrder(ctx, domain.OrderSpec{
		Symbol:         symbol,
		OrderType:      domain.OrderTypeLimit,
		Instruction:    domain.InstructionSellToOpen,
		Quantity:       quantity,
		AssetType:      domain.AssetTypeOption,
		PositionEffect: domain.PositionEffectOpening,
		Price:          price,
		Duration:       duration,
	})
}

func matchOrder(orders map[string]domain.OpenOrder, symbol string, instruction domain.Instruction, quantity int) bool {
	for _, oo := range orders {
		if oo.Symbol == symbol && oo.Instruction == instruction && oo.Quantity == quantity {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
