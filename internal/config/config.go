// Package config loads note-organizer settings from environment variables
// (optionally seeded from a .env file) and CLI flags, validates them, and
// provides defaults.
//
// CLI flags override the listen address and database path, and --no-s3
// disables S3 backups even when a bucket is configured.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/kuitang/note-organizer/internal/db"
	"github.com/kuitang/note-organizer/internal/obs"
	"github.com/kuitang/note-organizer/internal/ratelimit"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port            int           `env:"PORT" env-default:"4000" env-description:"HTTP port when LISTEN_ADDR is unset"`
	ListenAddr      string        `env:"LISTEN_ADDR" env-description:"Full listen address, overrides PORT"`
	BaseURL         string        `env:"BASE_URL" env-description:"Public base URL used for Location headers"`
	CORSOrigin      string        `env:"CORS_ORIGIN" env-default:"*" env-description:"Allowed CORS origins, comma separated"`
	BodyLimitBytes  int64         `env:"BODY_LIMIT_BYTES" env-default:"1048576"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`

	// Database and encryption
	DatabasePath  string `env:"DB_PATH" env-default:"./data/notes.db"`
	EncryptionKey string `env:"DB_ENCRYPTION_KEY" env-description:"64 hex characters (32 bytes); empty disables encryption"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogPretty bool   `env:"LOG_PRETTY" env-default:"false"`

	// Rate limiting
	RateLimit RateLimitConfig `env-prefix:"RATE_LIMIT_"`

	// S3 backups (AWS_ env vars as set by `fly storage create`)
	S3     S3Config
	Backup BackupConfig

	// NoS3 comes from the --no-s3 flag, not the environment.
	NoS3 bool
}

// RateLimitConfig mirrors ratelimit.Config with env tags.
type RateLimitConfig struct {
	RPS             float64       `env:"RPS" env-default:"20"`
	Burst           int           `env:"BURST" env-default:"40"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" env-default:"10m"`
	TrustProxy      bool          `env:"TRUST_PROXY" env-default:"false" env-description:"Key limits on the last X-Forwarded-For hop; enable only behind a proxy"`
}

// S3Config locates the backup bucket.
type S3Config struct {
	Endpoint        string `env:"AWS_ENDPOINT_URL_S3"`
	Region          string `env:"AWS_REGION" env-default:"auto"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Bucket          string `env:"BUCKET_NAME"`
}

// BackupConfig controls periodic snapshots.
type BackupConfig struct {
	Interval time.Duration `env:"BACKUP_INTERVAL" env-default:"1h"`
	Keep     int           `env:"BACKUP_KEEP" env-default:"24"`
	Prefix   string        `env:"BACKUP_PREFIX" env-default:"backups/"`
}

// Flags are the CLI overrides accepted by cmd/server.
type Flags struct {
	Addr    string
	DBPath  string
	NoS3    bool
	EnvFile string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags registers --addr, --db, --no-s3 and --env-file on set and parses args.
func ParseFlags(set *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	set.StringVar(&f.Addr, "addr", "", "Listen address (overrides LISTEN_ADDR and PORT)")
	set.StringVar(&f.DBPath, "db", "", "SQLite database path (overrides DB_PATH)")
	set.BoolVar(&f.NoS3, "no-s3", false, "Disable S3 backups even if BUCKET_NAME is set")
	set.StringVar(&f.EnvFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	if err := set.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// LoadConfig reads the dotenv file (if present), the environment and the
// flag overrides, then validates the result.
func LoadConfig(flags Flags) (*Config, error) {
	if flags.EnvFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(flags.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", flags.EnvFile, err)
		}
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.NoS3 = flags.NoS3
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}
	if flags.DBPath != "" {
		cfg.DatabasePath = flags.DBPath
	}
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all configuration is present and consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.ListenAddr == "" && (c.Port < 1 || c.Port > 65535) {
		errs = append(errs, "PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, "DB_PATH must not be empty")
	}
	if _, err := db.DecodeKey(c.EncryptionKey); err != nil {
		errs = append(errs, "DB_ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
	}
	if _, err := obs.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, "LOG_LEVEL must be one of debug, info, warn, error")
	}
	if c.BodyLimitBytes <= 0 {
		errs = append(errs, "BODY_LIMIT_BYTES must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be positive")
	}

	if c.RateLimit.RPS < 0 {
		errs = append(errs, "RATE_LIMIT_RPS must not be negative (0 disables rate limiting)")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}

	if c.BackupEnabled() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required when BUCKET_NAME is set (or use --no-s3)")
		}
		if c.S3.AccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when BUCKET_NAME is set (or use --no-s3)")
		}
		if c.S3.SecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when BUCKET_NAME is set (or use --no-s3)")
		}
		if c.Backup.Interval <= 0 {
			errs = append(errs, "BACKUP_INTERVAL must be positive")
		}
		if c.Backup.Keep < 1 {
			errs = append(errs, "BACKUP_KEEP must be at least 1")
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Addr returns the listen address: LISTEN_ADDR, else ":PORT".
func (c *Config) Addr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return ":" + strconv.Itoa(c.Port)
}

// EncryptionKeyBytes decodes DB_ENCRYPTION_KEY. nil means unencrypted.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	return db.DecodeKey(c.EncryptionKey)
}

// RateLimitConfig converts the env settings to a ratelimit.Config.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		RPS:             c.RateLimit.RPS,
		Burst:           c.RateLimit.Burst,
		CleanupInterval: c.RateLimit.CleanupInterval,
		TrustProxy:      c.RateLimit.TrustProxy,
	}
}

// CORSOrigins splits CORS_ORIGIN on commas.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BackupEnabled reports whether S3 snapshots should run.
func (c *Config) BackupEnabled() bool {
	return !c.NoS3 && c.S3.Bucket != ""
}

// Usage renders the documented environment variables.
func Usage() string {
	text, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return ""
	}
	return text
}
