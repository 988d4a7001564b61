// Package config loads pipeline configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the processor.
type Config struct {
	Mailbox MailboxConfig `yaml:"mailbox"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Bedrock BedrockConfig `yaml:"bedrock"`
	Storage StorageConfig `yaml:"storage"`
	Secrets SecretsConfig `yaml:"secrets"`

	// SubjectFilter selects which inbox messages are processed.
	SubjectFilter string `yaml:"subject_filter"`
	// Timezone is the IANA name of the civil timezone occurrence start
	// times are interpreted in. Explicit configuration, not an ambient
	// constant, so the core is testable without a hidden default.
	Timezone string `yaml:"timezone"`
}

// MailboxConfig holds IMAP settings. The account password comes from
// the encrypted secrets store, never from this file.
type MailboxConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// SMTPConfig holds outbound submission settings (implicit TLS).
type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BedrockConfig holds the text-generation model settings.
type BedrockConfig struct {
	ModelID string `yaml:"model_id"`
	Region  string `yaml:"region"`
}

// StorageConfig holds the event table settings. Driver is a sql driver
// name: "sqlite3" (default) or "postgres".
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// DedupMode is "strict" (derived-key comparison) or "legacy"
	// (payload substring test).
	DedupMode string `yaml:"dedup_mode"`
}

// SecretsConfig holds the encrypted credential store file locations.
type SecretsConfig struct {
	KeyFile string `yaml:"key_file"`
	EnvFile string `yaml:"env_file"`
}

// Load reads the YAML file at path (missing file is fine: defaults plus
// environment), overlays a .env if present, applies env overrides, and
// fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults and environment only.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Environment overrides
	if v := os.Getenv("MAILCAL_EMAIL_ADDRESS"); v != "" {
		cfg.Mailbox.Address = v
	}
	if v := os.Getenv("MAILCAL_IMAP_HOST"); v != "" {
		cfg.Mailbox.Host = v
	}
	if v := os.Getenv("MAILCAL_SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("MAILCAL_BEDROCK_MODEL_ID"); v != "" {
		cfg.Bedrock.ModelID = v
	}
	if v := os.Getenv("MAILCAL_DATABASE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("MAILCAL_DATABASE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("MAILCAL_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("MAILCAL_IMAP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Mailbox.Port = port
		}
	}
	if v := os.Getenv("MAILCAL_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = port
		}
	}

	// Set defaults
	if cfg.Mailbox.Host == "" {
		cfg.Mailbox.Host = "imap.gmail.com"
	}
	if cfg.Mailbox.Port == 0 {
		cfg.Mailbox.Port = 993
	}
	if cfg.SMTP.Host == "" {
		cfg.SMTP.Host = "smtp.gmail.com"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 465
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite3"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "events.db"
	}
	if cfg.Storage.DedupMode == "" {
		cfg.Storage.DedupMode = "strict"
	}
	if cfg.Secrets.KeyFile == "" {
		cfg.Secrets.KeyFile = ".key"
	}
	if cfg.Secrets.EnvFile == "" {
		cfg.Secrets.EnvFile = ".env.encrypted"
	}
	if cfg.SubjectFilter == "" {
		cfg.SubjectFilter = "create event"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}

	return &cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate rejects configurations the processor cannot run with.
func (c *Config) Validate() error {
	if c.Mailbox.Address == "" {
		return fmt.Errorf("mailbox.address is required (or MAILCAL_EMAIL_ADDRESS)")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
