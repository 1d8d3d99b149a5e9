package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wheelhouse/internal/domain"
)

// Journal is the day-scoped record of engine-originated option orders.
// The brokerage does not tag order origin, so the journal is the only way
// the option engine recognises its own orders among everything else on the
// account: an order belongs to the engine when its (symbol, instruction,
// quantity) matches a journal entry with the journalled status.
//
// One journal file exists per underlying per trading day, at
// <dataDir>/<TICKER>/<YYYYMMDD>/orders.json. Entries are never deleted
// mid-day; a new day starts a new journal.
type Journal struct {
	path    string
	entries map[string]domain.JournalEntry
}

// OpenJournal loads (or initialises) the journal for an underlying on the
// given trading day, creating the day directory if needed.
func OpenJournal(dataDir, underlying string, day time.Time) (*Journal, error) {
	dir := filepath.Join(dataDir, underlying, day.Format("20060102"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	j := &Journal{
		path:    filepath.Join(dir, "orders.json"),
		entries: make(map[string]domain.JournalEntry),
	}

	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	if err := json.Unmarshal(data, &j.entries); err != nil {
		return nil, fmt.Errorf("parsing journal %s: %w", j.path, err)
	}
	return j, nil
}

// Get returns the entry for an option symbol.
func (j *Journal) Get(symbol string) (domain.JournalEntry, bool) {
	e, ok := j.entries[symbol]
	return e, ok
}

// Record adds or replaces the entry for an option symbol.
func (j *Journal) Record(symbol string, e domain.JournalEntry) {
	j.entries[symbol] = e
}

// SetStatus mutates the lifecycle status of an existing entry. It reports
// whether the symbol was journalled.
func (j *Journal) SetStatus(symbol string, status domain.OrderStatus) bool {
	e, ok := j.entries[symbol]
	if !ok {
		return false
	}
	e.Status = status
	j.entries[symbol] = e
	return true
}

// Owns reports whether a broker-reported order is one of the engine's own:
// its symbol, instruction, and quantity must exactly match a journal entry
// whose journalled status equals status.
func (j *Journal) Owns(o domain.OpenOrder, status domain.OrderStatus) bool {
	e, ok := j.entries[o.Symbol]
	if !ok {
		return false
	}
	return e.Instruction == o.Instruction && e.Quantity == o.Quantity && e.Status == status
}

// HasExpiry reports whether any journalled symbol carries the given yymmdd
// expiry. The option engine uses this to enforce at most one new symbol per
// day per expiry.
func (j *Journal) HasExpiry(yymmdd string) bool {
	for symbol := range j.entries {
		sym, err := domain.ParseOptionSymbol(symbol)
		if err != nil {
			continue
		}
		if sym.Expiry == yymmdd {
			return true
		}
	}
	return false
}

// Symbols returns the journalled option symbols in unspecified order.
func (j *Journal) Symbols() []string {
	out := make([]string, 0, len(j.entries))
	for s := range j.entries {
		out = append(out, s)
	}
	return out
}

// Len returns the number of journalled entries.
func (j *Journal) Len() int {
	return len(j.entries)
}

// Save persists the journal. The on-disk form is indented JSON keyed by
// option symbol, diffable by hand.
func (j *Journal) Save() error {
	data, err := json.MarshalIndent(j.entries, "", "    ")
	if err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return os.Rename(tmp, j.path)
}
