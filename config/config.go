// Package config loads application configuration and provides the static
// cash counter settings the reconciliation core consumes.
//
// Values come from environment variables with sensible defaults; the
// server entry point layers command-line flags on top for port/db path.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/recon"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port     int
	LogLevel string
	DBPath   string

	// Reconciliation
	Currency          string
	MinorUnit         int32
	Denominations     []decimal.Decimal
	VarianceThreshold decimal.Decimal
	// AccountMappings maps payment mode -> ledger account id.
	AccountMappings map[recon.PaymentMode]string

	// Audit queue
	AuditBuffer      int
	AuditMaxAttempts int
	AuditBaseBackoff time.Duration

	// Shutdown
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables with defaults.
// The defaults describe an INR till with common note denominations.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DBPath:   getEnv("DB_PATH", "till.db"),

		Currency:  getEnv("CURRENCY", "INR"),
		MinorUnit: int32(getEnvInt("CURRENCY_MINOR_UNIT", 2)),

		AuditBuffer:      getEnvInt("AUDIT_BUFFER", 256),
		AuditMaxAttempts: getEnvInt("AUDIT_MAX_ATTEMPTS", 5),
		AuditBaseBackoff: getEnvDuration("AUDIT_BASE_BACKOFF", 100*time.Millisecond),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	denoms, err := parseDenominations(getEnv("DENOMINATIONS", "2000,500,200,100,50,20,10,5,2,1"))
	if err != nil {
		return nil, err
	}
	cfg.Denominations = denoms

	threshold, err := decimal.NewFromString(getEnv("VARIANCE_THRESHOLD", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid VARIANCE_THRESHOLD: %w", err)
	}
	cfg.VarianceThreshold = threshold

	mappings, err := parseAccountMappings(getEnv("ACCOUNT_MAPPINGS", ""))
	if err != nil {
		return nil, err
	}
	cfg.AccountMappings = mappings

	return cfg, nil
}

// CounterConfig assembles the read-only settings the core consumes.
func (c *Config) CounterConfig() recon.CashCounterConfig {
	return recon.CashCounterConfig{
		Currency:          c.Currency,
		MinorUnit:         c.MinorUnit,
		Denominations:     c.Denominations,
		AccountMappings:   c.AccountMappings,
		VarianceThreshold: c.VarianceThreshold,
	}
}

// =============================================================================
// STATIC PROVIDER
// =============================================================================

// StaticProvider serves one fixed CashCounterConfig. Settings change
// rarely; a multi-tenant deployment would swap in a provider backed by
// its settings service.
type StaticProvider struct {
	cfg recon.CashCounterConfig
}

func NewStaticProvider(cfg recon.CashCounterConfig) *StaticProvider {
	return &StaticProvider{cfg: cfg}
}

func (p *StaticProvider) CounterConfig(_ context.Context) (recon.CashCounterConfig, error) {
	return p.cfg, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDenominations(raw string) ([]decimal.Decimal, error) {
	parts := strings.Split(raw, ",")
	denoms := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid denomination %q: %w", p, err)
		}
		denoms = append(denoms, d)
	}
	if len(denoms) == 0 {
		return nil, fmt.Errorf("DENOMINATIONS must list at least one value")
	}
	return denoms, nil
}

// parseAccountMappings accepts a JSON object {"cash": "account-id", ...}.
// Empty input falls back to one ledger account per built-in mode.
func parseAccountMappings(raw string) (map[recon.PaymentMode]string, error) {
	if raw == "" {
		return map[recon.PaymentMode]string{
			recon.ModeCash:  "1110-cash-in-hand",
			recon.ModeCard:  "1120-card-clearing",
			recon.ModeUPI:   "1130-upi-clearing",
			recon.ModeOther: "1190-other-clearing",
		}, nil
	}
	var m map[recon.PaymentMode]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid ACCOUNT_MAPPINGS: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("ACCOUNT_MAPPINGS must map at least one mode")
	}
	return m, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
