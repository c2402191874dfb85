package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the payday daemon.
type AppConfig struct {
	LogLevel    string
	Environment string

	DatabasePath string
	BackupDir    string

	// Payday cycle settings.
	ThresholdMinutes     int64
	TickIntervalSeconds  int
	MaxPerTick           int
	AutoSaveOnTick       bool
	EvictIntervalSeconds int

	// Multiplier settings: permission node -> payout multiplier.
	MultipliersEnabled    bool
	PermissionMultipliers map[string]float64

	// Interception policy.
	BypassPermission  string
	MinimumPayment    float64
	InterceptAll      bool
	InterceptSources  []string
	ZoneWhitelistMode bool
	WhitelistedZones  []string
	BlacklistedZones  []string
	NotifyProgress    bool

	// Surfaces.
	HTTPAddr          string
	MetricsAddr       string
	DepositWebhookURL string
	NotifyWebhookURL  string
}

// Load reads configuration from environment variables and .env file (if present).
// Invalid tick semantics (non-positive threshold, interval or per-tick cap) are
// rejected here so the engine never starts with them.
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))

	cfg.DatabasePath = getEnv("DATABASE_PATH", "payday_data.db")
	cfg.BackupDir = getEnv("BACKUP_DIR", "backups")

	if cfg.ThresholdMinutes, err = getEnvInt64("PAYDAY_THRESHOLD_MINUTES", 60); err != nil {
		return nil, err
	}
	if cfg.TickIntervalSeconds, err = getEnvInt("TICK_INTERVAL_SECONDS", 60); err != nil {
		return nil, err
	}
	if cfg.MaxPerTick, err = getEnvInt("MAX_PER_TICK", 50); err != nil {
		return nil, err
	}
	if cfg.EvictIntervalSeconds, err = getEnvInt("EVICT_INTERVAL_SECONDS", 1800); err != nil {
		return nil, err
	}
	cfg.AutoSaveOnTick = getEnvBool("AUTO_SAVE_ON_TICK", true)

	cfg.MultipliersEnabled = getEnvBool("MULTIPLIERS_ENABLED", true)
	if cfg.PermissionMultipliers, err = parseMultipliers(os.Getenv("PERMISSION_MULTIPLIERS")); err != nil {
		return nil, err
	}

	cfg.BypassPermission = getEnv("BYPASS_PERMISSION", "payday.bypass")
	if cfg.MinimumPayment, err = getEnvFloat("MINIMUM_PAYMENT", 0.01); err != nil {
		return nil, err
	}
	cfg.InterceptAll = getEnvBool("INTERCEPT_ALL_PAYMENTS", true)
	cfg.InterceptSources = splitList(os.Getenv("INTERCEPT_SOURCES"))
	cfg.ZoneWhitelistMode = getEnvBool("ZONE_WHITELIST_MODE", false)
	cfg.WhitelistedZones = splitList(os.Getenv("WHITELISTED_ZONES"))
	cfg.BlacklistedZones = splitList(os.Getenv("BLACKLISTED_ZONES"))
	cfg.NotifyProgress = getEnvBool("NOTIFY_PROGRESS", true)

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.DepositWebhookURL = os.Getenv("DEPOSIT_WEBHOOK_URL")
	cfg.NotifyWebhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.ThresholdMinutes <= 0 {
		return fmt.Errorf("PAYDAY_THRESHOLD_MINUTES must be greater than 0, got %d", c.ThresholdMinutes)
	}
	if c.TickIntervalSeconds <= 0 {
		return fmt.Errorf("TICK_INTERVAL_SECONDS must be greater than 0, got %d", c.TickIntervalSeconds)
	}
	if c.MaxPerTick <= 0 {
		return fmt.Errorf("MAX_PER_TICK must be greater than 0, got %d", c.MaxPerTick)
	}
	if c.EvictIntervalSeconds <= 0 {
		return fmt.Errorf("EVICT_INTERVAL_SECONDS must be greater than 0, got %d", c.EvictIntervalSeconds)
	}
	if c.MinimumPayment < 0 {
		return fmt.Errorf("MINIMUM_PAYMENT must not be negative, got %g", c.MinimumPayment)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is not set")
	}
	if c.DepositWebhookURL == "" {
		return fmt.Errorf("DEPOSIT_WEBHOOK_URL is not set")
	}
	return nil
}

// parseMultipliers parses "payday.vip:1.5,payday.mvp:2.0" into a node map.
func parseMultipliers(raw string) (map[string]float64, error) {
	multipliers := make(map[string]float64)
	for _, pair := range splitList(raw) {
		node, value, found := strings.Cut(pair, ":")
		if !found {
			return nil, fmt.Errorf("invalid PERMISSION_MULTIPLIERS entry %q, want node:multiplier", pair)
		}
		multiplier, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid multiplier in PERMISSION_MULTIPLIERS entry %q: %w", pair, err)
		}
		multipliers[strings.TrimSpace(node)] = multiplier
	}
	return multipliers, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}
