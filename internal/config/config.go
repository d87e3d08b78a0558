// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string        // Base directory for the ledger database (always absolute)
	Port             int           // HTTP listen port
	LogLevel         string        // debug, info, warn, error
	DevMode          bool          // Relaxed CORS, pretty logging
	MinUnit          int64         // Global minimum amount for deposits, bets and cost bounds
	PrimaryAddress   string        // Primary role: full administrative authority
	SecondaryAddress string        // Secondary role: create/close/refund/return-bet authority
	PoolAddress      string        // The service's own account on the token ledger (holds pooled assets)
	TokenLedgerURL   string        // Base URL of the external fungible-asset ledger
	UnbetTimeout     time.Duration // Elapsed time after which the permissionless unbet opens
	Backup           *BackupConfig
}

// BackupConfig holds optional S3 snapshot backup configuration
type BackupConfig struct {
	Enabled  bool
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string // optional, for S3-compatible stores
	Schedule string // cron expression, defaults to daily at 03:00
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LABLEDGER_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	minUnit, err := getEnvInt64("LABLEDGER_MIN_UNIT", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid LABLEDGER_MIN_UNIT: %w", err)
	}
	if minUnit < 1 {
		return nil, fmt.Errorf("LABLEDGER_MIN_UNIT must be at least 1, got %d", minUnit)
	}

	primary := getEnv("LABLEDGER_PRIMARY_ADDRESS", "")
	if primary == "" {
		return nil, fmt.Errorf("LABLEDGER_PRIMARY_ADDRESS is required")
	}

	pool := getEnv("LABLEDGER_POOL_ADDRESS", "")
	if pool == "" {
		return nil, fmt.Errorf("LABLEDGER_POOL_ADDRESS is required")
	}

	tokenLedgerURL := getEnv("TOKEN_LEDGER_URL", "")
	if tokenLedgerURL == "" {
		return nil, fmt.Errorf("TOKEN_LEDGER_URL is required")
	}

	// 60 days unless overridden (hours granularity is enough here)
	unbetHours, err := getEnvInt("LABLEDGER_UNBET_TIMEOUT_HOURS", 24*60)
	if err != nil {
		return nil, fmt.Errorf("invalid LABLEDGER_UNBET_TIMEOUT_HOURS: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             port,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnv("DEV_MODE", "false") == "true",
		MinUnit:          minUnit,
		PrimaryAddress:   primary,
		SecondaryAddress: getEnv("LABLEDGER_SECONDARY_ADDRESS", ""),
		PoolAddress:      pool,
		TokenLedgerURL:   tokenLedgerURL,
		UnbetTimeout:     time.Duration(unbetHours) * time.Hour,
	}

	// Backup is opt-in: only configured when a bucket is provided
	if bucket := getEnv("BACKUP_S3_BUCKET", ""); bucket != "" {
		cfg.Backup = &BackupConfig{
			Enabled:  true,
			Bucket:   bucket,
			Region:   getEnv("BACKUP_S3_REGION", "eu-central-1"),
			Prefix:   getEnv("BACKUP_S3_PREFIX", "labledger"),
			Endpoint: getEnv("BACKUP_S3_ENDPOINT", ""),
			Schedule: getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
		}
	}

	return cfg, nil
}

// DatabasePath returns the path of the ledger database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
