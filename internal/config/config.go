package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	Backend                string
	DatabaseURL            string
	SQLitePath             string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	RedisKeyPrefix         string
	RevenueCacheTTLSeconds int
	IngestSecret           string
	AuthSecret             string
	AdminTokenTTLMinutes   int
	RecentInvoiceLimit     int
	NegativePolicy         string
	MaxAttempts            int
	DefaultVendorName      string
	LogLevel               string
	LogFormat              string
	LogOutput              string
}

// Load reads configuration from the environment. Secrets have no defaults;
// the server refuses to start without them.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("LEDGER_BACKEND", "auto")
	v.SetDefault("SQLITE_PATH", "data/ledger.db")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "ledger")
	v.SetDefault("REVENUE_CACHE_TTL_SECONDS", 15)
	v.SetDefault("ADMIN_TOKEN_TTL_MINUTES", 60)
	v.SetDefault("RECENT_INVOICE_LIMIT", 20)
	v.SetDefault("LEDGER_NEGATIVE_POLICY", "clamp")
	v.SetDefault("LEDGER_MAX_ATTEMPTS", 5)
	v.SetDefault("DEFAULT_VENDOR_NAME", "Vendeur inconnu")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stdout")

	cacheTTL := v.GetInt("REVENUE_CACHE_TTL_SECONDS")
	if cacheTTL < 0 {
		cacheTTL = 0
	}
	tokenTTL := v.GetInt("ADMIN_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 60
	}
	recentLimit := v.GetInt("RECENT_INVOICE_LIMIT")
	if recentLimit < 1 {
		recentLimit = 20
	}
	if recentLimit > 100 {
		recentLimit = 100
	}
	maxAttempts := v.GetInt("LEDGER_MAX_ATTEMPTS")
	if maxAttempts < 1 {
		maxAttempts = 5
	}

	cfg := Config{
		Port:                   v.GetString("PORT"),
		Backend:                strings.ToLower(strings.TrimSpace(v.GetString("LEDGER_BACKEND"))),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		SQLitePath:             v.GetString("SQLITE_PATH"),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		RedisKeyPrefix:         v.GetString("REDIS_KEY_PREFIX"),
		RevenueCacheTTLSeconds: cacheTTL,
		IngestSecret:           strings.TrimSpace(v.GetString("INGEST_SECRET")),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AdminTokenTTLMinutes:   tokenTTL,
		RecentInvoiceLimit:     recentLimit,
		NegativePolicy:         v.GetString("LEDGER_NEGATIVE_POLICY"),
		MaxAttempts:            maxAttempts,
		DefaultVendorName:      strings.TrimSpace(v.GetString("DEFAULT_VENDOR_NAME")),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
		LogOutput:              v.GetString("LOG_OUTPUT"),
	}
	if cfg.Backend == "" {
		cfg.Backend = "auto"
	}
	if cfg.DefaultVendorName == "" {
		cfg.DefaultVendorName = "Vendeur inconnu"
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
