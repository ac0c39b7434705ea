// Package config loads olav's layered configuration: compiled defaults, an
// on-disk settings.json under the agent directory, then environment
// variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// ServerConfig controls the internal control-surface HTTP listener.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the optional Postgres-backed thread/audit store.
// When DSN is empty, olav falls back to its in-memory store implementations.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls administrative access to the control surface: static
// bearer tokens and/or JWTs issued against JWTSecret.
type AuthConfig struct {
	Tokens    []string `json:"tokens"`
	JWTSecret string   `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
}

// AgentConfig locates the agent directory (spec §6) and its well-known
// subpaths: OLAV.md, skills/, knowledge/, imports/commands, imports/apis.
type AgentConfig struct {
	Dir string `json:"dir" env:"OLAV_AGENT_DIR"`
}

func (a AgentConfig) resolve(name string) string {
	dir := a.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name)
}

// IdentityPath returns the path to OLAV.md.
func (a AgentConfig) IdentityPath() string { return a.resolve("OLAV.md") }

// SkillsDir returns the path to skills/.
func (a AgentConfig) SkillsDir() string { return a.resolve("skills") }

// KnowledgeDir returns the path to knowledge/.
func (a AgentConfig) KnowledgeDir() string { return a.resolve("knowledge") }

// CommandsDir returns the path to imports/commands/.
func (a AgentConfig) CommandsDir() string { return a.resolve(filepath.Join("imports", "commands")) }

// APIsDir returns the path to imports/apis/.
func (a AgentConfig) APIsDir() string { return a.resolve(filepath.Join("imports", "apis")) }

// TemplatesDir returns the path to imports/templates/, where parsing
// templates for the Fleet Execution Engine's TemplateParser collaborator
// live (spec §6: "Template parser... templates live outside the core").
func (a AgentConfig) TemplatesDir() string {
	return a.resolve(filepath.Join("imports", "templates"))
}

// InventoryFile returns the path to inventory.json, the default static
// InventoryProvider's backing file.
func (a AgentConfig) InventoryFile() string { return a.resolve("inventory.json") }

// SchedulePath returns the path to schedule.json, the optional list of
// cron-scheduled inspection jobs olav runs on its own (spec §6's
// operational-deployment discussion of periodic inspections). A missing
// file means no scheduled jobs.
func (a AgentConfig) SchedulePath() string { return a.resolve("schedule.json") }

// FleetConfig controls the device connection pool and rate limiting.
type FleetConfig struct {
	MaxConnections     int     `json:"max_connections" env:"FLEET_MAX_CONNECTIONS"`
	ConnectTimeoutSec  int     `json:"connect_timeout_seconds" env:"FLEET_CONNECT_TIMEOUT_SECONDS"`
	IdleTimeoutSec     int     `json:"idle_timeout_seconds" env:"FLEET_IDLE_TIMEOUT_SECONDS"`
	RequestsPerSecond  float64 `json:"requests_per_second" env:"FLEET_REQUESTS_PER_SECOND"`
	Burst              int     `json:"burst" env:"FLEET_BURST"`
	CircuitMaxFailures int     `json:"circuit_max_failures" env:"FLEET_CIRCUIT_MAX_FAILURES"`
}

// InspectionConfig controls Map/Reduce fan-out for inspection runs.
type InspectionConfig struct {
	Concurrency       int     `json:"concurrency" env:"INSPECTION_CONCURRENCY"`
	TimeoutSec        int     `json:"timeout_seconds" env:"INSPECTION_TIMEOUT_SECONDS"`
	ReportMaxToks     int     `json:"report_max_tokens" env:"INSPECTION_REPORT_MAX_TOKENS"`
	RequestsPerSecond float64 `json:"requests_per_second" env:"INSPECTION_REQUESTS_PER_SECOND"`
	Burst             int     `json:"burst" env:"INSPECTION_BURST"`
}

// SessionConfig bounds how many conversational threads olav services at
// once (spec §5: "50 concurrent sessions per process. All configurable").
type SessionConfig struct {
	MaxConcurrent int `json:"max_concurrent" env:"SESSION_MAX_CONCURRENT"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	Auth       AuthConfig       `json:"auth"`
	Agent      AgentConfig      `json:"agent"`
	Fleet      FleetConfig      `json:"fleet"`
	Inspection InspectionConfig `json:"inspection"`
	Session    SessionConfig    `json:"session"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "olav",
		},
		Auth:  AuthConfig{},
		Agent: AgentConfig{Dir: "."},
		Fleet: FleetConfig{
			MaxConnections:     64,
			ConnectTimeoutSec:  10,
			IdleTimeoutSec:     300,
			RequestsPerSecond:  20,
			Burst:              40,
			CircuitMaxFailures: 5,
		},
		Inspection: InspectionConfig{
			Concurrency:       10,
			TimeoutSec:        120,
			ReportMaxToks:     20000,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Session: SessionConfig{
			MaxConcurrent: 50,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string from host parameters.
// Ignored when DSN is already set.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from settings.json (if present) and environment
// variables, in that order of precedence over the compiled defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		if dir := strings.TrimSpace(os.Getenv("OLAV_AGENT_DIR")); dir != "" {
			cfg.Agent.Dir = dir
		}
		_ = loadFromFile(cfg.Agent.resolve("settings.json"), cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors out when no tagged fields are present in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting anything.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a settings.json file, applying it over
// the compiled defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, cfg)
}

// applyDatabaseURLOverride lets DATABASE_URL override any settings.json DSN,
// matching the common deployment convention of injecting it via the platform.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
