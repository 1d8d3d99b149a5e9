package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wheelhouse/internal/domain"
)

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2025, 8, 29, 10, 0, 0, 0, time.UTC)

	j, err := OpenJournal(dir, "XYZ", day)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if j.Len() != 0 {
		t.Fatalf("fresh journal has %d entries", j.Len())
	}

	j.Record("XYZ   250829C00042000", domain.JournalEntry{
		Instruction: domain.InstructionSellToOpen,
		Quantity:    3,
		Status:      domain.OrderStatusWorking,
	})
	if err := j.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The day directory and file exist.
	if _, err := os.Stat(filepath.Join(dir, "XYZ", "20250829", "orders.json")); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}

	// Reopening the same day loads the entry back.
	j2, err := OpenJournal(dir, "XYZ", day)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	e, ok := j2.Get("XYZ   250829C00042000")
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if e.Instruction != domain.InstructionSellToOpen || e.Quantity != 3 || e.Status != domain.OrderStatusWorking {
		t.Errorf("entry = %+v", e)
	}

	// A new day starts an empty journal.
	j3, err := OpenJournal(dir, "XYZ", day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next day: %v", err)
	}
	if j3.Len() != 0 {
		t.Errorf("next-day journal has %d entries, want 0", j3.Len())
	}
}

func TestJournalOwns(t *testing.T) {
	j, err := OpenJournal(t.TempDir(), "XYZ", time.Now())
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	j.Record("XYZ   250829C00042000", domain.JournalEntry{
		Instruction: domain.InstructionSellToOpen,
		Quantity:    2,
		Status:      domain.OrderStatusWorking,
	})

	base := domain.OpenOrder{
		Symbol:      "XYZ   250829C00042000",
		Instruction: domain.InstructionSellToOpen,
		Quantity:    2,
	}
	if !j.Owns(base, domain.OrderStatusWorking) {
		t.Error("matching order should be owned")
	}

	other := base
	other.Quantity = 3
	if j.Owns(other, domain.OrderStatusWorking) {
		t.Error("quantity mismatch should not be owned")
	}
	if j.Owns(base, domain.OrderStatusFilled) {
		t.Error("status mismatch should not be owned")
	}

	foreign := base
	foreign.Symbol = "XYZ   250829C00043000"
	if j.Owns(foreign, domain.OrderStatusWorking) {
		t.Error("unjournalled symbol should not be owned")
	}
}

func TestJournalSetStatusAndHasExpiry(t *testing.T) {
	j, err := OpenJournal(t.TempDir(), "XYZ", time.Now())
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	j.Record("XYZ   250829C00042000", domain.JournalEntry{
		Instruction: domain.InstructionSellToOpen,
		Quantity:    1,
		Status:      domain.OrderStatusWorking,
	})

	if !j.SetStatus("XYZ   250829C00042000", domain.OrderStatusFilled) {
		t.Fatal("SetStatus on existing entry returned false")
	}
	e, _ := j.Get("XYZ   250829C00042000")
	if e.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want FILLED", e.Status)
	}
	if j.SetStatus("XYZ   250829C00099000", domain.OrderStatusFilled) {
		t.Error("SetStatus on missing entry returned true")
	}

	if !j.HasExpiry("250829") {
		t.Error("HasExpiry(250829) = false")
	}
	if j.HasExpiry("250902") {
		t.Error("HasExpiry(250902) = true")
	}
}

func TestResistanceMonotone(t *testing.T) {
	dir := t.TempDir()
	r := NewResistanceFile(dir, "XYZ")

	// Default level is zero.
	level, err := r.Level()
	if err != nil {
		t.Fatalf("Level: %v", err)
	}
	if level != 0 {
		t.Errorf("initial level = %v, want 0", level)
	}

	// The persisted level is the running max regardless of order.
	highs := []float64{43.10, 42.80, 44.25, 41.00, 44.25, 43.99}
	want := 0.0
	for _, h := range highs {
		if h > want {
			want = h
		}
		got, err := r.Update(h)
		if err != nil {
			t.Fatalf("Update(%v): %v", h, err)
		}
		if got != want {
			t.Errorf("Update(%v) = %v, want %v", h, got, want)
		}
	}

	// Survives reopen.
	level, err = NewResistanceFile(dir, "XYZ").Level()
	if err != nil {
		t.Fatalf("Level after reopen: %v", err)
	}
	if level != 44.25 {
		t.Errorf("persisted level = %v, want 44.25", level)
	}
}

func TestSQLiteBalanceHistory(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wheelhouse.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2025, 8, 25, 16, 0, 0, 0, time.UTC)
	for i, v := range []float64{100000, 100500, 99800} {
		if err := s.RecordBalance(ctx, "brokerage", base.AddDate(0, 0, i), v); err != nil {
			t.Fatalf("RecordBalance: %v", err)
		}
	}
	if err := s.RecordBalance(ctx, "ira", base, 50000); err != nil {
		t.Fatalf("RecordBalance ira: %v", err)
	}

	recs, err := s.BalanceHistory(ctx, "brokerage", 10)
	if err != nil {
		t.Fatalf("BalanceHistory: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	// Newest first.
	if recs[0].Value != 99800 || recs[2].Value != 100000 {
		t.Errorf("order wrong: %+v", recs)
	}

	// Re-recording the same timestamp overwrites, not duplicates.
	if err := s.RecordBalance(ctx, "brokerage", base, 123456); err != nil {
		t.Fatalf("RecordBalance overwrite: %v", err)
	}
	recs, err = s.BalanceHistory(ctx, "brokerage", 10)
	if err != nil {
		t.Fatalf("BalanceHistory: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("len after overwrite = %d, want 3", len(recs))
	}
	if recs[2].Value != 123456 {
		t.Errorf("overwritten value = %v, want 123456", recs[2].Value)
	}
}

func TestParquetQuoteRoundTrip(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	at := time.Date(2025, 8, 29, 14, 30, 0, 0, time.UTC)
	q := domain.StockQuote{Symbol: "XYZ", Mid: 42.50, High: 43.10, Low: 42.05}
	if err := ps.RecordQuote(ctx, q, 44.25, at); err != nil {
		t.Fatalf("RecordQuote: %v", err)
	}
	// Second snapshot a minute later, same month file.
	q2 := domain.StockQuote{Symbol: "XYZ", Mid: 42.60, High: 43.15, Low: 42.05}
	if err := ps.RecordQuote(ctx, q2, 44.25, at.Add(time.Minute)); err != nil {
		t.Fatalf("RecordQuote: %v", err)
	}

	got, err := ps.ReadQuotes(ctx, "XYZ", at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadQuotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Mid != 42.50 || got[1].Mid != 42.60 {
		t.Errorf("snapshots out of order: %+v", got)
	}
	if got[0].Resistance != 44.25 {
		t.Errorf("resistance = %v, want 44.25", got[0].Resistance)
	}

	// Unknown symbol reads empty, not error.
	none, err := ps.ReadQuotes(ctx, "ABC", at, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadQuotes ABC: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no snapshots for ABC, got %d", len(none))
	}
}

func TestParquetQuotePath(t *testing.T) {
	ps := NewParquetStore("/data")
	at := time.Date(2025, 8, 29, 0, 0, 0, 0, time.UTC)
	want := filepath.Join("/data", "quotes", "XYZ", "2025-08.parquet")
	if got := ps.quotePath("xyz", at); got != want {
		t.Errorf("quotePath = %q, want %q", got, want)
	}
}
