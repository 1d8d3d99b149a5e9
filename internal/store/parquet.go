package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"wheelhouse/internal/domain"
)

// Compile-time interface check.
var _ QuoteRecorder = (*ParquetStore)(nil)

// ParquetStore implements QuoteRecorder using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// QuoteRecord is the Parquet schema for archived quote snapshots.
type QuoteRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Mid        float64 `parquet:"mid"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Resistance float64 `parquet:"resistance"`
}

// RecordQuote appends one quote snapshot to the month file for the symbol.
// Snapshots landing on the same millisecond are deduplicated, preferring
// the newest write.
func (s *ParquetStore) RecordQuote(_ context.Context, q domain.StockQuote, resistance float64, at time.Time) error {
	path := s.quotePath(q.Symbol, at)

	existing, _ := readParquetFile[QuoteRecord](path)
	merged := mergeQuoteRecords(existing, []QuoteRecord{{
		Symbol:     q.Symbol,
		Timestamp:  at.UnixMilli(),
		Mid:        q.Mid,
		High:       q.High,
		Low:        q.Low,
		Resistance: resistance,
	}})

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing quote snapshot for %s: %w", q.Symbol, err)
	}
	return nil
}

// ReadQuotes reads archived snapshots for the symbol within [start, end].
func (s *ParquetStore) ReadQuotes(_ context.Context, symbol string, start, end time.Time) ([]QuoteSnapshot, error) {
	var out []QuoteSnapshot
	for m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(end); m = m.AddDate(0, 1, 0) {
		path := s.quotePath(symbol, m)
		records, err := readParquetFile[QuoteRecord](path)
		if err != nil {
			// No file for this month — skip.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				out = append(out, QuoteSnapshot{
					Symbol:     r.Symbol,
					Timestamp:  ts,
					Mid:        r.Mid,
					High:       r.High,
					Low:        r.Low,
					Resistance: r.Resistance,
				})
			}
		}
	}
	return out, nil
}

// quotePath returns the filesystem path for a quote Parquet file.
// Layout: <dataDir>/quotes/<SYMBOL>/<YYYY-MM>.parquet
func (s *ParquetStore) quotePath(symbol string, t time.Time) string {
	month := t.Format("2006-01")
	return filepath.Join(s.DataDir, "quotes", strings.ToUpper(symbol), month+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeQuoteRecords deduplicates snapshots by (symbol, timestamp),
// preferring new records over existing ones. Results are sorted by
// timestamp.
func mergeQuoteRecords(existing, incoming []QuoteRecord) []QuoteRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]QuoteRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]QuoteRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
