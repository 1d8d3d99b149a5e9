package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResistanceFile persists the running maximum of every observed high of day
// for one underlying. The level only moves upward: no decay, no windowing.
type ResistanceFile struct {
	path string
}

// NewResistanceFile returns the resistance tracker for an underlying,
// backed by <dataDir>/<TICKER>_max.txt.
func NewResistanceFile(dataDir, underlying string) *ResistanceFile {
	return &ResistanceFile{path: filepath.Join(dataDir, underlying+"_max.txt")}
}

// Level reads the persisted resistance level, defaulting to 0 when the file
// does not exist yet.
func (r *ResistanceFile) Level() (float64, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading resistance file: %w", err)
	}
	level, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing resistance file %s: %w", r.path, err)
	}
	return level, nil
}

// Update compares today's high of day against the persisted level and
// raises the level if the high is strictly greater. It returns the level in
// effect after the comparison.
func (r *ResistanceFile) Update(highOfDay float64) (float64, error) {
	level, err := r.Level()
	if err != nil {
		return 0, err
	}
	if highOfDay <= level {
		return level, nil
	}
	body := strconv.FormatFloat(highOfDay, 'f', -1, 64) + "\n"
	if err := os.WriteFile(r.path, []byte(body), 0o644); err != nil {
		return 0, fmt.Errorf("writing resistance file: %w", err)
	}
	return highOfDay, nil
}
