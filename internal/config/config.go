// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Validator and notifier backends.
const (
	ValidatorLocal  = "local"
	ValidatorRemote = "remote"

	NotifierLog      = "log"
	NotifierTelegram = "telegram"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	AppPort     int    `env:"APP_PORT" envDefault:"8080"`
	AppTimezone string `env:"APP_TIMEZONE" envDefault:"UTC"`

	// Database (PostgreSQL)
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. Bulk checks validate serially, so writes get a long budget.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Proxies allowed to set X-Forwarded-For. Addresses or CIDRs; empty
	// means the socket peer is always the client address.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Ledger limits
	GuestDailyLimit int   `env:"GUEST_DAILY_LIMIT" envDefault:"50"`
	BulkLimitUser   int   `env:"BULK_LIMIT_USER" envDefault:"1000"`
	BulkLimitGuest  int   `env:"BULK_LIMIT_GUEST" envDefault:"100"`
	DefaultCredits  int64 `env:"DEFAULT_CREDITS" envDefault:"50000"`

	// Account activation
	ActivationCodeTTL       time.Duration `env:"ACTIVATION_CODE_TTL" envDefault:"30s"`
	ActivationMaxAttempts   int           `env:"ACTIVATION_MAX_ATTEMPTS" envDefault:"5"`
	ActivationAttemptWindow time.Duration `env:"ACTIVATION_ATTEMPT_WINDOW" envDefault:"10m"`
	LoginMaxAttempts        int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"10"`
	LoginAttemptWindow      time.Duration `env:"LOGIN_ATTEMPT_WINDOW" envDefault:"15m"`

	// Bearer tokens
	JWTSecret   string        `env:"JWT_SECRET"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"24h"`
	AuthEnforce bool          `env:"AUTH_ENFORCE" envDefault:"false"`

	// Validation delegate
	Validator              string        `env:"VALIDATOR" envDefault:"local"`
	ValidatorURL           string        `env:"VALIDATOR_URL"`
	ValidatorTimeout       time.Duration `env:"VALIDATOR_TIMEOUT" envDefault:"5s"`
	ValidatorDefaultRegion string        `env:"VALIDATOR_DEFAULT_REGION"`

	// Notification delegate
	Notifier            string        `env:"NOTIFIER" envDefault:"log"`
	NotifyTimeout       time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	NotifyLogPath       string        `env:"NOTIFY_LOG_PATH"`
	TelegramBotToken    string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL      string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	TelegramRPS         int           `env:"TELEGRAM_RPS" envDefault:"25"`
	TelegramMaxAttempts int           `env:"TELEGRAM_MAX_ATTEMPTS" envDefault:"3"`

	// Burst rate limiting (per IP, in Redis)
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS     int  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst   int  `env:"RATE_LIMIT_BURST" envDefault:"30"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Location resolves AppTimezone. Day boundaries for guest limits use it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.AppTimezone, err)
	}
	return loc, nil
}

// ProxyPrefixes parses TrustedProxies. Bare addresses become single-host
// prefixes.
func (c *Config) ProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Validator {
	case ValidatorLocal:
	case ValidatorRemote:
		if c.ValidatorURL == "" {
			errs = append(errs, errors.New("VALIDATOR_URL is required when VALIDATOR=remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VALIDATOR %q", c.Validator))
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierTelegram:
		if c.TelegramBotToken == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required when NOTIFIER=telegram"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFIER %q", c.Notifier))
	}

	if c.IsProduction() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}

	if c.GuestDailyLimit < 0 || c.BulkLimitUser < 1 || c.BulkLimitGuest < 1 {
		errs = append(errs, errors.New("ledger limits must be positive"))
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a Config.
// A .env file in the working directory is read first when present;
// variables already set in the environment win.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
