// Package telemetry carries per-batch timing out of the core and keeps a
// small history of past runs. The core only emits; display and aggregation
// belong to the embedding application.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BatchStat is what the dispatcher emits after each batch resolves,
// success or failure.
type BatchStat struct {
	// Index is the zero-based batch index in submission order.
	Index int
	// Batches is the total number of batches in the run.
	Batches int
	// Leaves is the number of leaves in this batch.
	Leaves int
	// BackendTime is time spent waiting on the translation backend,
	// including retries.
	BackendTime time.Duration
	// LocalTime is time spent on local work: shielding, unshielding,
	// checkpointing.
	LocalTime time.Duration
	// Failed is set when the batch exhausted its retries and every leaf
	// fell back to its original value.
	Failed bool
}

// Sink receives batch stats. Implementations must be safe for concurrent
// use; batches may resolve in parallel.
type Sink interface {
	BatchDone(BatchStat)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) BatchDone(BatchStat) {}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(BatchStat)

func (f FuncSink) BatchDone(s BatchStat) { f(s) }

// FormatDuration renders a duration the way humans read translation runs:
// milliseconds under a second, tenths of seconds under a minute, then
// minutes and hours.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// ---------------------------------------------------------------------------
// Run history
// ---------------------------------------------------------------------------

// HistoryEntry is one finished run.
type HistoryEntry struct {
	Timestamp  string `json:"timestamp"`
	File       string `json:"file"`
	Language   string `json:"language"`
	Translated int    `json:"items_translated"`
	Failed     int    `json:"items_failed"`
	Total      int    `json:"total_items"`
	Duration   string `json:"duration"`
	Status     string `json:"status"`
}

// SaveHistory prepends an entry to the history file, newest first, capped
// at maxEntries. History failures are reported but never fatal — a run
// that translated a document succeeded regardless.
func SaveHistory(path string, e HistoryEntry, maxEntries int) error {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}

	history, _ := LoadHistory(path)
	history = append([]HistoryEntry{e}, history...)
	if maxEntries > 0 && len(history) > maxEntries {
		history = history[:maxEntries]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// LoadHistory reads the history file, newest first. A missing or corrupt
// file reads as empty.
func LoadHistory(path string) ([]HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var history []HistoryEntry
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return history, nil
}
