package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_MissingFileYieldsDefaults(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	d := Defaults()
	if s != d {
		t.Errorf("got %+v, want defaults %+v", s, d)
	}
}

func TestLoadFrom_PartialFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"api": {"provider": "groq", "model": "llama-3.3-70b-versatile"}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.API.Provider != "groq" {
		t.Errorf("Provider = %q", s.API.Provider)
	}
	if s.API.Model != "llama-3.3-70b-versatile" {
		t.Errorf("Model = %q", s.API.Model)
	}
	// Keys the file does not name keep their defaults, even within the
	// section the file touches.
	if s.API.BatchSize != 50 {
		t.Errorf("BatchSize = %d", s.API.BatchSize)
	}
	if s.Files.OutputPrefix != "translated_" {
		t.Errorf("OutputPrefix = %q", s.Files.OutputPrefix)
	}
	if s.History.MaxEntries != 100 {
		t.Errorf("MaxEntries = %d", s.History.MaxEntries)
	}
}

func TestLoadFrom_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected error for corrupt config")
	}
}

func TestResolveAPIKey_Order(t *testing.T) {
	s := Defaults()
	s.API.APIKey = "from-config"

	t.Setenv("TREEGLOT_API_KEY", "")
	if got := s.ResolveAPIKey("from-flag"); got != "from-flag" {
		t.Errorf("flag should win, got %q", got)
	}
	t.Setenv("TREEGLOT_API_KEY", "from-env")
	if got := s.ResolveAPIKey(""); got != "from-env" {
		t.Errorf("env should beat config, got %q", got)
	}
	t.Setenv("TREEGLOT_API_KEY", "")
	if got := s.ResolveAPIKey(""); got != "from-config" {
		t.Errorf("config fallback, got %q", got)
	}
}

func TestFilePath_UsesXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	want := filepath.Join(dir, "treeglot", "config.json")
	if got := FilePath(); got != want {
		t.Errorf("FilePath = %q, want %q", got, want)
	}
}
