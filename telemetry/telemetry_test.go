package telemetry

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.5s"},
		{45 * time.Second, "45.0s"},
		{90 * time.Second, "1m 30s"},
		{61 * time.Minute, "1h 1m"},
		{0, "0ms"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.d); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestHistory_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	err := SaveHistory(path, HistoryEntry{
		File:       "config.yml",
		Language:   "fr",
		Translated: 10,
		Total:      12,
		Status:     "completed",
	}, 100)
	if err != nil {
		t.Fatal(err)
	}

	history, err := LoadHistory(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("len = %d, want 1", len(history))
	}
	if history[0].File != "config.yml" || history[0].Translated != 10 {
		t.Errorf("entry = %+v", history[0])
	}
	if history[0].Timestamp == "" {
		t.Error("timestamp not filled in")
	}
}

func TestHistory_NewestFirstAndCapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	for i := 0; i < 5; i++ {
		err := SaveHistory(path, HistoryEntry{File: fmt.Sprintf("file%d.yml", i)}, 3)
		if err != nil {
			t.Fatal(err)
		}
	}

	history, err := LoadHistory(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("len = %d, want 3", len(history))
	}
	if history[0].File != "file4.yml" {
		t.Errorf("newest first: got %q", history[0].File)
	}
	if history[2].File != "file2.yml" {
		t.Errorf("oldest kept: got %q", history[2].File)
	}
}

func TestLoadHistory_Missing(t *testing.T) {
	history, err := LoadHistory(filepath.Join(t.TempDir(), "history.json"))
	if err != nil {
		t.Fatal(err)
	}
	if history != nil {
		t.Errorf("expected nil, got %v", history)
	}
}
