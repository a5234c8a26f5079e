// Package config loads runtime configuration from the environment.
//
// A .env file in the working directory is read first if present; real
// environment variables always win over it. Load validates the result, so
// the rest of the program can trust every field.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/hypest/internal/auth"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all runtime configuration values.
type Config struct {
	Env  string // APP_ENV: dev, test, prod
	Port int    // PORT

	DBDriver     string        // DB_DRIVER: sqlite or postgres
	DBPath       string        // DB_PATH (sqlite)
	DatabaseURL  string        // DATABASE_URL (postgres)
	StoreTimeout time.Duration // STORE_TIMEOUT: deadline for every store call

	SessionTTL           time.Duration // SESSION_TTL
	SessionPruneInterval time.Duration // SESSION_PRUNE_INTERVAL: 0 disables the janitor
	CookieSecure         bool          // COOKIE_SECURE

	Argon2 auth.Params // ARGON2_TIME, ARGON2_MEMORY_KIB, ARGON2_THREADS

	LogLevel  string // LOG_LEVEL
	LogFormat string // LOG_FORMAT: text or json

	Redis     RedisConfig
	RateLimit RateLimitConfig
}

// RedisConfig locates the Redis server backing the rate limiter.
// An empty Addr disables rate limiting.
type RedisConfig struct {
	Addr     string // REDIS_ADDR
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// RateLimitConfig sizes the token bucket on the login and registration routes.
type RateLimitConfig struct {
	Capacity       int           // RATE_LIMIT_CAPACITY: burst size
	RefillTokens   int           // RATE_LIMIT_REFILL_TOKENS
	RefillInterval time.Duration // RATE_LIMIT_REFILL_INTERVAL
	TTL            time.Duration // RATE_LIMIT_TTL: idle bucket lifetime
	Prefix         string        // RATE_LIMIT_PREFIX
}

// Load reads .env (if any) and the environment, then validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (Config, error) {
	r := &reader{}

	cfg := Config{
		Env:  envStr("APP_ENV", "dev"),
		Port: r.envInt("PORT", 8080),

		DBDriver:     strings.ToLower(envStr("DB_DRIVER", DriverSQLite)),
		DBPath:       envStr("DB_PATH", "data/hypest.db"),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		StoreTimeout: r.envDur("STORE_TIMEOUT", 3*time.Second),

		SessionTTL:           r.envDur("SESSION_TTL", 24*time.Hour),
		SessionPruneInterval: r.envDur("SESSION_PRUNE_INTERVAL", 10*time.Minute),
		CookieSecure:         r.envBool("COOKIE_SECURE", false),

		Argon2: auth.Params{
			Time:      uint32(r.envUint("ARGON2_TIME", uint64(auth.DefaultParams.Time), 32)),
			MemoryKiB: uint32(r.envUint("ARGON2_MEMORY_KIB", uint64(auth.DefaultParams.MemoryKiB), 32)),
			Threads:   uint8(r.envUint("ARGON2_THREADS", uint64(auth.DefaultParams.Threads), 8)),
		},

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),

		Redis: RedisConfig{
			Addr:     envStr("REDIS_ADDR", ""),
			Password: envStr("REDIS_PASSWORD", ""),
			DB:       r.envInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Capacity:       r.envInt("RATE_LIMIT_CAPACITY", 10),
			RefillTokens:   r.envInt("RATE_LIMIT_REFILL_TOKENS", 1),
			RefillInterval: r.envDur("RATE_LIMIT_REFILL_INTERVAL", 6*time.Second),
			TTL:            r.envDur("RATE_LIMIT_TTL", 10*time.Minute),
			Prefix:         envStr("RATE_LIMIT_PREFIX", "hypest:rl"),
		},
	}

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules and security minimums.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be sqlite or postgres", c.DBDriver))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.SessionPruneInterval < 0 {
		errs = append(errs, errors.New("SESSION_PRUNE_INTERVAL must not be negative"))
	}
	if _, err := auth.NewPasswordHasher(c.Argon2); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.Addr != "" {
		if c.RateLimit.Capacity <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_CAPACITY must be positive"))
		}
		if c.RateLimit.RefillTokens <= 0 || c.RateLimit.RefillInterval <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_REFILL_TOKENS and RATE_LIMIT_REFILL_INTERVAL must be positive"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RateLimitEnabled reports whether a Redis server was configured.
func (c Config) RateLimitEnabled() bool {
	return c.Redis.Addr != ""
}

// reader collects parse errors so one bad variable doesn't hide the next.
type reader struct {
	errs []error
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) envInt(key string, def int) int {
	s := envStr(key, "")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid int for %s: %q", key, s))
		return def
	}
	return n
}

// envUint parses an unsigned integer that must fit in bits. Negative or
// oversized values are errors rather than wrapping on conversion.
func (r *reader) envUint(key string, def uint64, bits int) uint64 {
	s := envStr(key, "")
	if s == "" {
		return def
	}
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid uint%d for %s: %q", bits, key, s))
		return def
	}
	return n
}

func (r *reader) envDur(key string, def time.Duration) time.Duration {
	s := envStr(key, "")
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid duration for %s: %q", key, s))
		return def
	}
	return d
}

func (r *reader) envBool(key string, def bool) bool {
	s := envStr(key, "")
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid bool for %s: %q", key, s))
		return def
	}
	return b
}
