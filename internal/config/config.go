package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	OpenMRSBaseURL     string        `mapstructure:"OPENMRS_BASE_URL"`
	OpenMRSUsername    string        `mapstructure:"OPENMRS_USERNAME"`
	OpenMRSPassword    string        `mapstructure:"OPENMRS_PASSWORD"`
	BackendTimeout     time.Duration `mapstructure:"BACKEND_TIMEOUT"`
	CacheBackend       string        `mapstructure:"CACHE_BACKEND"`
	CacheTTL           time.Duration `mapstructure:"CACHE_TTL"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SearchDebounce     time.Duration `mapstructure:"SEARCH_DEBOUNCE"`
	DefaultCurrency    string        `mapstructure:"DEFAULT_CURRENCY"`
	CashPointUUID      string        `mapstructure:"CASH_POINT_UUID"`
	CashierUUID        string        `mapstructure:"CASHIER_UUID"`
	PriceUUID          string        `mapstructure:"PRICE_UUID"`
	EnforceBillPayment bool          `mapstructure:"ENFORCE_BILL_PAYMENT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"OPENMRS_BASE_URL", "OPENMRS_USERNAME", "OPENMRS_PASSWORD", "BACKEND_TIMEOUT",
	"CACHE_BACKEND", "CACHE_TTL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"SEARCH_DEBOUNCE", "DEFAULT_CURRENCY",
	"CASH_POINT_UUID", "CASHIER_UUID", "PRICE_UUID", "ENFORCE_BILL_PAYMENT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OPENMRS_BASE_URL", "http://localhost:8080/openmrs/ws/rest/v1")
	v.SetDefault("BACKEND_TIMEOUT", "30s")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SEARCH_DEBOUNCE", "300ms")
	v.SetDefault("DEFAULT_CURRENCY", "KES")
	v.SetDefault("ENFORCE_BILL_PAYMENT", true)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgresCache reports whether cached backend reads live in PostgreSQL.
func (c *Config) UsesPostgresCache() bool {
	return c.CacheBackend == "postgres"
}

// Validate checks that the configuration is complete enough to serve.
func (c *Config) Validate() error {
	if c.OpenMRSBaseURL == "" {
		return fmt.Errorf("OPENMRS_BASE_URL is required")
	}
	if !strings.HasPrefix(c.OpenMRSBaseURL, "http://") && !strings.HasPrefix(c.OpenMRSBaseURL, "https://") {
		return fmt.Errorf("OPENMRS_BASE_URL must be an http(s) URL, got %q", c.OpenMRSBaseURL)
	}
	switch c.CacheBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CACHE_BACKEND is \"postgres\"")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be \"memory\" or \"postgres\", got %q", c.CacheBackend)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.IsProduction() && (c.CashPointUUID == "" || c.CashierUUID == "") {
		return fmt.Errorf("CASH_POINT_UUID and CASHIER_UUID are required in production")
	}
	return nil
}
