// Package config loads sellerhub settings from the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend kinds.
const (
	BackendSupabase = "supabase"
	BackendMemory   = "memory"
)

// Saga store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// SupabaseConfig holds the hosted project settings.
type SupabaseConfig struct {
	URL        string        `env:"SUPABASE_URL"`
	ServiceKey string        `env:"SUPABASE_SERVICE_KEY"`
	JWTSecret  string        `env:"SUPABASE_JWT_SECRET"`
	Timeout    time.Duration `env:"SELLERHUB_HTTP_TIMEOUT" envDefault:"30s"`
}

// SagaConfig selects where signup saga state is kept.
type SagaConfig struct {
	Store       string `env:"SELLERHUB_SAGA_STORE"     envDefault:"file"`
	StateDir    string `env:"SELLERHUB_SAGA_STATE_DIR" envDefault:"./data/sagas"`
	DatabaseURL string `env:"DATABASE_URL"`
	// StaleAfter is how long a running saga may go without an update before
	// sagactl may roll it back.
	StaleAfter time.Duration `env:"SELLERHUB_SAGA_STALE_AFTER" envDefault:"15m"`
}

type LogConfig struct {
	Level  string `env:"SELLERHUB_LOG_LEVEL"  envDefault:"info"`
	Format string `env:"SELLERHUB_LOG_FORMAT" envDefault:"json"`
}

// RateLimitConfig throttles signups per client IP.
type RateLimitConfig struct {
	SignupPerSecond float64 `env:"SELLERHUB_SIGNUP_RATE"  envDefault:"1"`
	SignupBurst     int     `env:"SELLERHUB_SIGNUP_BURST" envDefault:"5"`
	// TrustedProxies are the addresses or CIDRs whose X-Forwarded-For is
	// believed. Empty means the client IP is the connection's peer address.
	TrustedProxies []string `env:"SELLERHUB_TRUSTED_PROXIES" envSeparator:","`
}

type Config struct {
	Port            string        `env:"SELLERHUB_PORT"             envDefault:"8080"`
	Backend         string        `env:"SELLERHUB_BACKEND"          envDefault:"supabase"`
	ShutdownTimeout time.Duration `env:"SELLERHUB_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Supabase  SupabaseConfig
	Saga      SagaConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

// Load reads configuration from environment variables.
// It fails fast with clear errors for missing required values.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Saga.Store = strings.ToLower(strings.TrimSpace(c.Saga.Store))

	var missing []string

	switch c.Backend {
	case BackendSupabase:
		if c.Supabase.URL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Supabase.ServiceKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid SELLERHUB_BACKEND value %q: must be %s or %s", c.Backend, BackendSupabase, BackendMemory)
	}

	if c.Supabase.JWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}

	switch c.Saga.Store {
	case StoreMemory:
	case StoreFile:
		if c.Saga.StateDir == "" {
			missing = append(missing, "SELLERHUB_SAGA_STATE_DIR")
		}
	case StorePostgres:
		if c.Saga.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("invalid SELLERHUB_SAGA_STORE value %q: must be memory, file, or postgres", c.Saga.Store)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if c.Backend == BackendSupabase {
		if err := validateSupabaseURL(c.Supabase.URL); err != nil {
			return fmt.Errorf("invalid SUPABASE_URL: %w", err)
		}
	}
	if c.Saga.Store == StorePostgres {
		if err := validateDatabaseURL(c.Saga.DatabaseURL); err != nil {
			return fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
	}
	if c.Supabase.Timeout <= 0 {
		return fmt.Errorf("invalid SELLERHUB_HTTP_TIMEOUT %s: must be positive", c.Supabase.Timeout)
	}
	if c.Saga.StaleAfter <= 0 {
		return fmt.Errorf("invalid SELLERHUB_SAGA_STALE_AFTER %s: must be positive", c.Saga.StaleAfter)
	}
	if c.RateLimit.SignupPerSecond <= 0 || c.RateLimit.SignupBurst <= 0 {
		return fmt.Errorf("signup rate limit must be positive (rate %v, burst %d)", c.RateLimit.SignupPerSecond, c.RateLimit.SignupBurst)
	}
	for _, proxy := range c.RateLimit.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("invalid SELLERHUB_TRUSTED_PROXIES entry %q: must be an IP or CIDR", proxy)
		}
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func validateSupabaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("URL must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	if parsed.User != nil {
		return fmt.Errorf("URL must not include user info")
	}
	return nil
}

func validProxy(proxy string) bool {
	if strings.Contains(proxy, "/") {
		_, _, err := net.ParseCIDR(proxy)
		return err == nil
	}
	return net.ParseIP(proxy) != nil
}

// validateDatabaseURL ensures the database URL is a valid PostgreSQL connection string.
func validateDatabaseURL(dbURL string) error {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("URL must use postgres or postgresql scheme, got %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}

	return nil
}
