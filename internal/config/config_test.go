package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Sessions.Backend != "memory" {
		t.Fatalf("sessions backend = %q, want memory", cfg.Sessions.Backend)
	}
	if cfg.Telemetry.SampleRatio != 1.0 {
		t.Fatalf("sample ratio = %v, want 1.0", cfg.Telemetry.SampleRatio)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Sessions.Backend)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// session backend for this deployment
		sessions: { backend: "sqlite", path: "/tmp/sessions.db" },
		telemetry: { enabled: true, endpoint: "otel:4317" },
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sessions.Backend != "sqlite" || cfg.Sessions.Path != "/tmp/sessions.db" {
		t.Fatalf("sessions = %+v", cfg.Sessions)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "otel:4317" {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWGRAM_TELEGRAM_TOKEN", "tok-123")
	t.Setenv("FLOWGRAM_SESSIONS_BACKEND", "sqlite")
	t.Setenv("FLOWGRAM_TELEMETRY_ENABLED", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "tok-123" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Sessions.Backend != "sqlite" {
		t.Fatalf("backend = %q", cfg.Sessions.Backend)
	}
	if !cfg.Telemetry.Enabled {
		t.Fatal("telemetry not enabled from env")
	}
}

func TestSaveNeverPersistsSecrets(t *testing.T) {
	t.Setenv("FLOWGRAM_TELEGRAM_TOKEN", "secret-token")
	t.Setenv("FLOWGRAM_POSTGRES_DSN", "postgres://secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"secret-token", "postgres://secret"} {
		if strings.Contains(string(data), secret) {
			t.Fatalf("secret %q persisted to disk", secret)
		}
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs hash differently")
	}
	b.Sessions.Backend = "sqlite"
	if a.Hash() == b.Hash() {
		t.Fatal("different configs share a hash")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/x"); got != home+"/x" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandHome("/abs/x"); got != "/abs/x" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandHome(""); got != "" {
		t.Fatalf("got %q", got)
	}
}
