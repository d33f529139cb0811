package internal

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigDefaults tests that default values are applied when loading
// a minimal config.
func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "asana:\n  token: test-token\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.WebhookPath != "/webhooks/asana" {
		t.Fatalf("expected default webhook path, got %q", cfg.Server.WebhookPath)
	}
	if cfg.Asana.BaseURL != "https://app.asana.com/api/1.0" {
		t.Fatalf("expected default asana base url, got %q", cfg.Asana.BaseURL)
	}
	if cfg.Sheets.SecretsSheet != "webhook_secrets" {
		t.Fatalf("expected default secrets sheet, got %q", cfg.Sheets.SecretsSheet)
	}
	if cfg.Relay.EventTopic != "asana.events" {
		t.Fatalf("expected default event topic, got %q", cfg.Relay.EventTopic)
	}
	if cfg.Queue.MinIntervalMS != 1000 {
		t.Fatalf("expected default queue interval, got %d", cfg.Queue.MinIntervalMS)
	}
	if cfg.Queue.BackoffMinMS != 5000 || cfg.Queue.BackoffMaxMS != 10000 {
		t.Fatalf("expected default queue backoff, got %d/%d", cfg.Queue.BackoffMinMS, cfg.Queue.BackoffMaxMS)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Fatalf("expected default retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Pipeline.Driver != "gochannel" {
		t.Fatalf("expected default pipeline driver, got %q", cfg.Pipeline.Driver)
	}
	if cfg.Pipeline.GoChannel.OutputChannelBuffer != 64 {
		t.Fatalf("expected default output buffer, got %d", cfg.Pipeline.GoChannel.OutputChannelBuffer)
	}
}

// TestLoadConfigMissingToken tests that a config without an Asana token is
// rejected.
func TestLoadConfigMissingToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing asana token")
	}
}

// TestLoadConfigExpandsEnv tests that environment variables are expanded
// before unmarshalling.
func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ASANA_TOKEN", "secret-pat")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "asana:\n  token: ${TEST_ASANA_TOKEN}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Asana.Token != "secret-pat" {
		t.Fatalf("expected expanded token, got %q", cfg.Asana.Token)
	}
}

// TestLoadConfigBackoffOrdering tests that an inverted backoff window is
// rejected.
func TestLoadConfigBackoffOrdering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "asana:\n  token: t\nqueue:\n  backoff_min_ms: 9000\n  backoff_max_ms: 6000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for inverted backoff window")
	}
}

// TestLoadConfigWorkspaceOverrides tests that per-workspace custom field
// overrides are parsed.
func TestLoadConfigWorkspaceOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `asana:
  token: t
relay:
  custom_fields: [Priority, Amount]
  workspaces:
    "12345":
      custom_fields: [Priority, Amount, priority]
      extra_column: priority
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ws, ok := cfg.Relay.Workspaces["12345"]
	if !ok {
		t.Fatalf("expected workspace override to be parsed")
	}
	if ws.ExtraColumn != "priority" {
		t.Fatalf("expected extra column, got %q", ws.ExtraColumn)
	}
	if len(ws.CustomFields) != 3 {
		t.Fatalf("expected 3 workspace fields, got %d", len(ws.CustomFields))
	}
}
