// Package settings provides the tool's configuration: documented defaults,
// a JSON config file, and environment lookup for the API key.
//
// The config file lives in the XDG config directory:
//
//	$XDG_CONFIG_HOME/treeglot/config.json  (default: ~/.config/treeglot/)
//
// Values loaded from the file are merged over the defaults, so a partial
// file only overrides what it names. The core packages never read this —
// they take injected parameters; this package is how the CLI produces them.
//
// API key lookup order:
//  1. --api-key flag (highest priority)
//  2. TREEGLOT_API_KEY environment variable
//  3. api_key in the config file
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName = "treeglot"
	fileName      = "config.json"
)

// API holds translation backend settings.
type API struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	BatchSize  int    `json:"batch_size"`
	Timeout    int    `json:"timeout_seconds"`
	MaxRetries int    `json:"max_retries"`
	Workers    int    `json:"workers"`
	DelayMs    int    `json:"request_delay_ms"`
}

// Files holds file handling settings.
type Files struct {
	AutoBackup      bool   `json:"auto_backup"`
	OutputPrefix    string `json:"output_prefix"`
	CheckpointEvery int    `json:"checkpoint_every"`
}

// UI holds display settings.
type UI struct {
	ShowProgress    bool `json:"show_progress"`
	DetailedLogging bool `json:"detailed_logging"`
}

// History holds run-history settings.
type History struct {
	MaxEntries int  `json:"max_entries"`
	AutoSave   bool `json:"auto_save"`
}

// Settings is the full configuration tree.
type Settings struct {
	API     API     `json:"api"`
	Files   Files   `json:"files"`
	UI      UI      `json:"ui"`
	History History `json:"history"`
}

// Defaults returns the documented default configuration.
func Defaults() Settings {
	return Settings{
		API: API{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			BatchSize:  50,
			Timeout:    30,
			MaxRetries: 3,
			Workers:    3,
		},
		Files: Files{
			AutoBackup:      true,
			OutputPrefix:    "translated_",
			CheckpointEvery: 1,
		},
		UI: UI{
			ShowProgress:    true,
			DetailedLogging: true,
		},
		History: History{
			MaxEntries: 100,
			AutoSave:   true,
		},
	}
}

// configDir returns the XDG config directory for treeglot.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", configDirName), nil
}

// FilePath returns the config file path for display purposes.
func FilePath() string {
	dir, err := configDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, fileName)
}

// HistoryPath returns the run-history file path.
func HistoryPath() string {
	dir, err := configDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "history.json")
}

// Load reads the config file and merges it over the defaults. A missing
// file yields the defaults; a corrupt file is an error.
func Load() (Settings, error) {
	path := FilePath()
	if path == "" {
		return Defaults(), nil
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit path, for tests and --config.
func LoadFrom(path string) (Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("reading %s: %w", path, err)
	}
	// Unmarshal into the defaults so missing keys keep their values.
	if err := json.Unmarshal(data, &s); err != nil {
		return Defaults(), fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes the settings to the config file (0600: it may hold a key).
func (s Settings) Save() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ResolveAPIKey applies the lookup order: flag, environment, config file.
func (s Settings) ResolveAPIKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("TREEGLOT_API_KEY"); env != "" {
		return env
	}
	return s.API.APIKey
}
