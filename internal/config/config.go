package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for redeven-console.
type Config struct {
	// GatewayURL is the base URL of the conversational-agent gateway the
	// console connects to.
	GatewayURL string `json:"gateway_url"`

	// SessionKey is the session opened on startup. Optional; the surface
	// can switch sessions at runtime.
	SessionKey string `json:"session_key,omitempty"`

	// JournalPath is where the local run-event journal lives. If empty,
	// journaling is disabled.
	JournalPath string `json:"journal_path,omitempty"`

	// HistoryLimit bounds one history page. Zero picks the engine default.
	HistoryLimit int `json:"history_limit,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	gw := strings.TrimSpace(c.GatewayURL)
	if gw == "" {
		return errors.New("missing gateway_url")
	}
	u, err := url.Parse(gw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid gateway_url: %s", gw)
	}
	if c.HistoryLimit < 0 {
		return errors.New("invalid history_limit")
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.redeven-console/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "redeven-console.config.json"
	}
	return filepath.Join(home, ".redeven-console", "config.json")
}

// DefaultJournalPath returns the journal location next to the config.
func DefaultJournalPath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "journal.sqlite")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
