package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := &Config{GatewayURL: "https://gw.example.com"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := []*Config{
		nil,
		{},
		{GatewayURL: "   "},
		{GatewayURL: "not a url"},
		{GatewayURL: "https://gw.example.com", HistoryLimit: -1},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validate error", i)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := &Config{
		GatewayURL:   "https://gw.example.com",
		SessionKey:   "sess-1",
		JournalPath:  filepath.Join(dir, "journal.sqlite"),
		HistoryLimit: 250,
		LogFormat:    "json",
		LogLevel:     "debug",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.GatewayURL != cfg.GatewayURL || got.SessionKey != cfg.SessionKey {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", got, cfg)
	}
	if got.HistoryLimit != 250 || got.LogFormat != "json" || got.LogLevel != "debug" {
		t.Fatalf("round trip mismatch: got=%+v", got)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasSuffix(string(b), "\n") {
		t.Fatalf("expected trailing newline")
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, &Config{}); err == nil {
		t.Fatalf("expected error for invalid config")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("invalid config should not be written")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ format, level string }{
		{"", ""},
		{"text", "info"},
		{"json", "debug"},
		{"JSON", "WARN"},
		{"text", "error"},
	} {
		if _, err := NewLogger(tc.format, tc.level); err != nil {
			t.Fatalf("NewLogger(%q, %q): %v", tc.format, tc.level, err)
		}
	}

	if _, err := NewLogger("xml", "info"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := NewLogger("text", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
