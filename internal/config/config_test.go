package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConnectionString(t *testing.T) {
	cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "user", Password: "pass", Name: "db", SSLMode: "disable"}
	want := "host=localhost port=5432 user=user password=pass dbname=db sslmode=disable"
	if got := cfg.ConnectionString(); got != want {
		t.Fatalf("connection string mismatch: %s", got)
	}
}

func TestConnectionString_EmptyFields(t *testing.T) {
	cfg := DatabaseConfig{}
	want := "host= port=0 user= password= dbname= sslmode="
	if got := cfg.ConnectionString(); got != want {
		t.Fatalf("connection string mismatch: %s", got)
	}
}

func TestNew(t *testing.T) {
	cfg := New()
	if cfg == nil {
		t.Fatal("New() should return non-nil config")
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Fleet.MaxConnections != 64 {
		t.Errorf("expected default fleet max connections 64, got %d", cfg.Fleet.MaxConnections)
	}
	if cfg.Inspection.Concurrency != 10 {
		t.Errorf("expected default inspection concurrency 10, got %d", cfg.Inspection.Concurrency)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Session.MaxConcurrent != 50 {
		t.Errorf("expected default session max concurrent 50, got %d", cfg.Session.MaxConcurrent)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(`{"server":{"host":"192.168.1.1","port":9000},"fleet":{"max_connections":8}}`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Server.Host != "192.168.1.1" {
		t.Errorf("expected server host override, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected server port override, got %d", cfg.Server.Port)
	}
	if cfg.Fleet.MaxConnections != 8 {
		t.Errorf("expected fleet max connections override, got %d", cfg.Fleet.MaxConnections)
	}
	// Unset fields must retain compiled defaults.
	if cfg.Inspection.Concurrency != 10 {
		t.Errorf("expected inspection concurrency default to survive, got %d", cfg.Inspection.Concurrency)
	}
}

func TestLoadFile_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("/nonexistent/settings.json")
	if err != nil {
		t.Fatalf("LoadFile should not error on missing file: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(path, []byte(`{invalid json}`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_WithEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "test.local")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Host != "test.local" {
		t.Errorf("expected SERVER_HOST override test.local, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected SERVER_PORT override 3000, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected LOG_LEVEL override warn, got %s", cfg.Logging.Level)
	}
}

func TestLoad_AppliesDatabaseURLEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(`{"database":{"dsn":"postgres://file-dsn"}}`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env-dsn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Database.DSN != "postgres://env-dsn" {
		t.Fatalf("expected DATABASE_URL override, got %q", cfg.Database.DSN)
	}
}

func TestAgentConfig_Paths(t *testing.T) {
	a := AgentConfig{Dir: "/tmp/agent"}
	if a.IdentityPath() != "/tmp/agent/OLAV.md" {
		t.Errorf("unexpected identity path: %s", a.IdentityPath())
	}
	if a.SkillsDir() != "/tmp/agent/skills" {
		t.Errorf("unexpected skills dir: %s", a.SkillsDir())
	}
	if a.CommandsDir() != filepath.Join("/tmp/agent", "imports", "commands") {
		t.Errorf("unexpected commands dir: %s", a.CommandsDir())
	}
}
