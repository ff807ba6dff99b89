package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/pricing"
)

// Storage drivers supported by the sale engine.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
// It is the single source of truth for runtime parameters.
type Config struct {
	Port           string
	Env            string
	JWTSecret      string
	JWTTTL         time.Duration
	StorageDriver  string
	MigrationsPath string
	LogLevel       string
	SeedDemoData   bool
	CORSOrigins    []string

	// Failed logins allowed per client IP within LoginWindow.
	LoginMaxFailures int
	LoginWindow      time.Duration

	DB    DatabaseConfig
	Redis RedisConfig
	Sales SalesConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         string
	Password     string
	DB           int
	SaleCacheTTL time.Duration
}

// SalesConfig tunes the checkout engine.
type SalesConfig struct {
	// DefaultTaxRate is applied to lines that carry no explicit rate (0.18 = 18%).
	DefaultTaxRate  decimal.Decimal
	CheckoutTimeout time.Duration
	LockTimeout     time.Duration
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Missing .env is fine; production relies on real environment variables.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.StorageDriver = getEnv("STORAGE_DRIVER", StoragePostgres)
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", "file://migrations")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.SeedDemoData = getEnvBool("SEED_DEMO_DATA", false)
	cfg.CORSOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000,http://localhost:5173"))
	cfg.LoginMaxFailures = getEnvInt("AUTH_MAX_FAILED_LOGINS", 5)

	// Database
	cfg.DB = DatabaseConfig{
		Host:         getEnv("DB_HOST", ""),
		Port:         getEnv("DB_PORT", "5432"),
		User:         getEnv("DB_USER", ""),
		Password:     getEnv("DB_PASSWORD", ""),
		Name:         getEnv("DB_NAME", ""),
		SSLMode:      getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Enabled:  getEnvBool("REDIS_ENABLED", true),
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	var err error
	if cfg.JWTTTL, err = parseDurationEnv("JWT_TTL", "24h"); err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	if cfg.LoginWindow, err = parseDurationEnv("AUTH_FAILED_LOGIN_WINDOW", "1m"); err != nil {
		return nil, fmt.Errorf("invalid AUTH_FAILED_LOGIN_WINDOW: %w", err)
	}
	if cfg.Redis.SaleCacheTTL, err = parseDurationEnv("SALE_CACHE_TTL", "10m"); err != nil {
		return nil, fmt.Errorf("invalid SALE_CACHE_TTL: %w", err)
	}

	// Sales
	if cfg.Sales.DefaultTaxRate, err = parseDecimalEnv("SALES_DEFAULT_TAX_RATE", "0.18"); err != nil {
		return nil, fmt.Errorf("invalid SALES_DEFAULT_TAX_RATE: %w", err)
	}
	if err := pricing.CheckTaxRate(cfg.Sales.DefaultTaxRate); err != nil {
		return nil, fmt.Errorf("invalid SALES_DEFAULT_TAX_RATE: %w", err)
	}
	if cfg.Sales.CheckoutTimeout, err = parseDurationEnv("SALES_CHECKOUT_TIMEOUT", "10s"); err != nil {
		return nil, fmt.Errorf("invalid SALES_CHECKOUT_TIMEOUT: %w", err)
	}
	if cfg.Sales.LockTimeout, err = parseDurationEnv("SALES_LOCK_TIMEOUT", "5s"); err != nil {
		return nil, fmt.Errorf("invalid SALES_LOCK_TIMEOUT: %w", err)
	}

	switch cfg.StorageDriver {
	case StoragePostgres:
		if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
			return nil, errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StoragePostgres, StorageMemory, cfg.StorageDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set for authentication")
	}

	return cfg, nil
}

// DSN builds the lib/pq connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Name, c.SSLMode)
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// splitList splits a comma separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}

// parseDecimalEnv reads a non-negative decimal such as a tax rate.
func parseDecimalEnv(key, def string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, def))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("value must be >= 0")
	}
	return d, nil
}
