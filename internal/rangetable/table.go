// Package rangetable loads the range-trading settings file: the trade
// increment, share cap, funding ticker, and the ordered share-threshold to
// buy/sell price table the range engine picks targets from.
package rangetable

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Entry is one row of the range table: holding shareThreshold shares maps to
// a buy price and a sell price. Thresholds ascend through the file while the
// price pairs descend; that ordering is a configuration invariant and is not
// enforced here.
type Entry struct {
	Threshold int
	BuyPrice  float64
	SellPrice float64
}

// Table is the parsed range-trading settings file.
type Table struct {
	// TradeShares is the share increment for a single trade.
	TradeShares int
	// MaxShares caps the total position size.
	MaxShares int
	// FundingTicker is the cash-equivalent holding liquidated to fund
	// buys and swept into at end of day.
	FundingTicker string

	entries []Entry
	byThr   map[int]Entry
}

// Load reads and parses the settings file at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing range settings %s: %w", path, err)
	}
	return t, nil
}

// Parse reads the line-record settings format:
//
//	shares: 10
//	max_shares: 600
//	funding_ticker: BIL
//	<header line, ignored>
//	100, 42.60, 43.00
//	...
func Parse(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)

	tradeShares, err := intField(sc, "shares")
	if err != nil {
		return nil, err
	}
	maxShares, err := intField(sc, "max_shares")
	if err != nil {
		return nil, err
	}
	ticker, err := stringField(sc, "funding_ticker")
	if err != nil {
		return nil, err
	}

	// Column header row.
	if !sc.Scan() {
		return nil, fmt.Errorf("missing table header line")
	}

	t := &Table{
		TradeShares:   tradeShares,
		MaxShares:     maxShares,
		FundingTicker: ticker,
		byThr:         make(map[int]Entry),
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("table row %q: want 3 comma-separated fields", line)
		}
		thr, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("table row %q: bad threshold: %w", line, err)
		}
		buy, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("table row %q: bad buy price: %w", line, err)
		}
		sell, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("table row %q: bad sell price: %w", line, err)
		}
		e := Entry{Threshold: thr, BuyPrice: buy, SellPrice: sell}
		t.entries = append(t.entries, e)
		t.byThr[thr] = e
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t.entries) == 0 {
		return nil, fmt.Errorf("range table has no rows")
	}
	if tradeShares <= 0 {
		return nil, fmt.Errorf("shares must be positive, got %d", tradeShares)
	}
	if maxShares <= 0 {
		return nil, fmt.Errorf("max_shares must be positive, got %d", maxShares)
	}

	return t, nil
}

// Entries returns the table rows in file order (ascending thresholds).
func (t *Table) Entries() []Entry {
	return t.entries
}

// ByThreshold returns the row for an exact share threshold.
func (t *Table) ByThreshold(threshold int) (Entry, bool) {
	e, ok := t.byThr[threshold]
	return e, ok
}

func intField(sc *bufio.Scanner, name string) (int, error) {
	s, err := stringField(sc, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}
	return n, nil
}

func stringField(sc *bufio.Scanner, name string) (string, error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("missing field %s", name)
	}
	line := sc.Text()
	_, value, found := strings.Cut(line, ":")
	if !found {
		return "", fmt.Errorf("field %s: line %q has no colon", name, line)
	}
	return strings.TrimSpace(value), nil
}
