// Package config defines the explicit configuration record recognized by
// the audit-chain core: every recognized option is an enumerated field with
// a documented default, rather than a loosely-typed option bag.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Database holds the connection-pool configuration.
type Database struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSL            bool
	PoolSize       int           // default 20
	IdleTimeout    time.Duration // default 30s
	Debug          bool
}

// Crypto holds the signing/verification configuration. PrivateKeyPEM and
// PublicKeyPEM are required; the rest default.
type Crypto struct {
	Algorithm     string // default "RSA-SHA256"
	HashAlgorithm string // default "sha256"
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
}

// Application holds the ingest-facing tunables.
type Application struct {
	MaxBulkEvents       int           // default 1000
	CreateEventTimeout  time.Duration // default 5000ms
	MaxBacklogPerStream int           // default 10000
}

// Integrity holds retention/sealing/export tunables.
type Integrity struct {
	PartitionDays               int // default 7
	SealAfterDays                int // default 30
	WORMEnabled                  bool
	WORMStoragePath              string
	ValidateOnQuery              bool
	ScheduledValidationInterval time.Duration
}

// Context holds a default project/environment loaded by FromEnv. Nothing in
// the core applies it: auditclient.New ignores it, and a ScopedClient takes
// its ids from the WithContext arguments.
type Context struct {
	ProjectID     string
	EnvironmentID string
}

// Config is the full, explicit configuration record. Every recognized
// option appears here as an enumerated field.
type Config struct {
	Database    Database
	Crypto      Crypto
	Application Application
	Integrity   Integrity
	Context     Context
}

// Default returns a Config with every documented default applied; callers
// still must fill in Database connection details and the Crypto keypair.
func Default() Config {
	return Config{
		Database: Database{
			PoolSize:    20,
			IdleTimeout: 30 * time.Second,
		},
		Crypto: Crypto{
			Algorithm:     "RSA-SHA256",
			HashAlgorithm: "sha256",
		},
		Application: Application{
			MaxBulkEvents:       1000,
			CreateEventTimeout:  5000 * time.Millisecond,
			MaxBacklogPerStream: 10000,
		},
		Integrity: Integrity{
			PartitionDays: 7,
			SealAfterDays: 30,
		},
	}
}

// Validate returns an error describing the first missing/invalid required
// field, or nil if cfg is usable.
func (c Config) Validate() error {
	if len(c.Crypto.PrivateKeyPEM) == 0 {
		return fmt.Errorf("config: crypto.private_key is required")
	}
	if len(c.Crypto.PublicKeyPEM) == 0 {
		return fmt.Errorf("config: crypto.public_key is required")
	}
	if c.Application.MaxBulkEvents <= 0 {
		return fmt.Errorf("config: application.max_bulk_events must be positive")
	}
	return nil
}

// FromEnv loads a Config from environment variables, applying Default()
// first. This is a convenience for cmd/auditd; core packages never read the
// environment themselves or hold any implicit global context.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.Database.Host = os.Getenv("DB_HOST")
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Database = os.Getenv("DB_NAME")
	if v := os.Getenv("DB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid DB_PORT: %w", err)
		}
		cfg.Database.Port = p
	}
	if v := os.Getenv("DB_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid DB_SSL: %w", err)
		}
		cfg.Database.SSL = b
	}
	if v := os.Getenv("DB_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid DB_POOL_SIZE: %w", err)
		}
		cfg.Database.PoolSize = n
	}

	if v := os.Getenv("AUDIT_PRIVATE_KEY_PEM"); v != "" {
		cfg.Crypto.PrivateKeyPEM = []byte(v)
	}
	if v := os.Getenv("AUDIT_PUBLIC_KEY_PEM"); v != "" {
		cfg.Crypto.PublicKeyPEM = []byte(v)
	}

	if v := os.Getenv("MAX_BULK_EVENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid MAX_BULK_EVENTS: %w", err)
		}
		cfg.Application.MaxBulkEvents = n
	}
	if v := os.Getenv("CREATE_EVENT_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid CREATE_EVENT_TIMEOUT_MS: %w", err)
		}
		cfg.Application.CreateEventTimeout = time.Duration(n) * time.Millisecond
	}

	cfg.Integrity.WORMStoragePath = os.Getenv("WORM_STORAGE_PATH")
	if v := os.Getenv("WORM_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid WORM_ENABLED: %w", err)
		}
		cfg.Integrity.WORMEnabled = b
	}

	cfg.Context.ProjectID = os.Getenv("AUDIT_PROJECT_ID")
	cfg.Context.EnvironmentID = os.Getenv("AUDIT_ENVIRONMENT_ID")

	return cfg, nil
}
