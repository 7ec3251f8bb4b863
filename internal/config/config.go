// Package config loads server settings from the environment. A .env file in
// the working directory is read first if present; real environment variables
// win over it. Command-line flags are applied on top by the cmd package.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jmcleod/cmdbook/crypto"
)

// Storage backends.
const (
	BackendBbolt    = "bbolt"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	// Server
	ListenAddr string
	TLSCert    string
	TLSKey     string

	// Storage
	Backend     string
	DataDir     string
	PostgresDSN string
	StorageKey  string // hex, 32 bytes; derived from ArtifactPassphrase when empty

	// Auth
	ArtifactPassphrase string
	SessionLifetime    time.Duration
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Audit forwarding; disabled when the URL is empty.
	AuditWebhookURL    string
	AuditWebhookHeader string
}

// Load reads .env (if present) and CMDBOOK_* variables over the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment alone.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("CMDBOOK_LISTEN_ADDR", ":8080"),
		TLSCert:    os.Getenv("CMDBOOK_TLS_CERT"),
		TLSKey:     os.Getenv("CMDBOOK_TLS_KEY"),

		Backend:     strings.ToLower(getEnv("CMDBOOK_STORAGE_BACKEND", BackendBbolt)),
		DataDir:     getEnv("CMDBOOK_DATA_DIR", "./data"),
		PostgresDSN: os.Getenv("CMDBOOK_POSTGRES_DSN"),
		StorageKey:  os.Getenv("CMDBOOK_STORAGE_KEY"),

		ArtifactPassphrase: getEnv("CMDBOOK_ARTIFACT_PASSPHRASE", crypto.DefaultArtifactPassphrase),
		SessionLifetime:    getEnvDuration("CMDBOOK_SESSION_LIFETIME", 24*time.Hour),
		SessionIdleTimeout: getEnvDuration("CMDBOOK_SESSION_IDLE_TIMEOUT", 15*time.Minute),
		SweepInterval:      getEnvDuration("CMDBOOK_SESSION_SWEEP_INTERVAL", time.Minute),

		LogLevel:  getEnv("CMDBOOK_LOG_LEVEL", "info"),
		LogFormat: getEnv("CMDBOOK_LOG_FORMAT", "json"),

		AuditWebhookURL:    os.Getenv("CMDBOOK_AUDIT_WEBHOOK_URL"),
		AuditWebhookHeader: os.Getenv("CMDBOOK_AUDIT_WEBHOOK_HEADER"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field combinations that cannot work.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendBbolt, BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("CMDBOOK_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS needs both a certificate and a key")
	}
	if c.StorageKey != "" {
		if _, err := c.StorageKeyBytes(); err != nil {
			return err
		}
	}
	if c.ArtifactPassphrase == "" {
		return fmt.Errorf("artifact passphrase must not be empty")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"CMDBOOK_SESSION_LIFETIME", c.SessionLifetime},
		{"CMDBOOK_SESSION_SWEEP_INTERVAL", c.SweepInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.SessionIdleTimeout < 0 {
		return fmt.Errorf("CMDBOOK_SESSION_IDLE_TIMEOUT must not be negative, got %s", c.SessionIdleTimeout)
	}
	return nil
}

// StorageKeyBytes decodes StorageKey. It returns nil, nil when no key is set.
func (c *Config) StorageKeyBytes() ([]byte, error) {
	if c.StorageKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.StorageKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("CMDBOOK_STORAGE_KEY must be 64 hex characters")
	}
	return key, nil
}

// TLSEnabled reports whether a certificate pair is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
