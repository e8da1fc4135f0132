/*
Package configs loads the server configuration from the environment.

A .env file in the working directory is read first when present; real environment
variables take precedence over it.
*/
package configs

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// developmentSecret signs resume tokens when no SESSION_SECRET is set in development.
const developmentSecret = "inkroom-development-secret-change-me"

// AppConfig holds every tunable of the server.
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	Port        int    `env:"PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL"`

	// AllowedOriginsRaw is a comma separated origin allow-list. Empty means same-origin only.
	AllowedOriginsRaw string `env:"ALLOWED_ORIGINS"`
	AllowedOrigins    []string

	// SessionSecret signs session resume tokens.
	SessionSecret string `env:"SESSION_SECRET"`

	// Per-connection message limiter: more than RateCeiling messages per RateTestInterval
	// throttles the connection until its counter decays to zero.
	RateCeiling       int           `env:"RATE_CEILING,default=120"`
	RateTestInterval  time.Duration `env:"RATE_TEST_INTERVAL,default=1s"`
	RateDecayInterval time.Duration `env:"RATE_DECAY_INTERVAL,default=5s"`

	// BulkInitTimeout bounds how long a joiner waits for peers' drawing history.
	BulkInitTimeout time.Duration `env:"BULK_INIT_TIMEOUT,default=20s"`

	// DeactivationGrace is how long a dropped connection keeps its room seats.
	DeactivationGrace time.Duration `env:"DEACTIVATION_GRACE,default=10s"`

	// MaxMessageBytes caps a single inbound websocket frame.
	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES,default=1048576"`

	// Per-IP websocket upgrade budget.
	UpgradeRate  float64 `env:"UPGRADE_RATE,default=1"`
	UpgradeBurst int     `env:"UPGRADE_BURST,default=10"`
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads the configuration and validates it.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize derives computed fields and rejects unusable values.
func (c *AppConfig) finalize() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the allowed range (1024-65535)", c.Port)
	}

	c.AllowedOrigins = c.AllowedOrigins[:0]
	for _, origin := range strings.Split(c.AllowedOriginsRaw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, trimmed)
		}
	}

	if c.SessionSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("SESSION_SECRET is required in %s environment", c.Environment)
		}
		c.SessionSecret = developmentSecret
	}

	if c.RateCeiling <= 0 {
		return fmt.Errorf("RATE_CEILING must be positive, got %d", c.RateCeiling)
	}
	if c.RateTestInterval <= 0 || c.RateDecayInterval <= 0 {
		return fmt.Errorf("rate limiter intervals must be positive")
	}
	if c.BulkInitTimeout <= 0 {
		return fmt.Errorf("BULK_INIT_TIMEOUT must be positive, got %s", c.BulkInitTimeout)
	}
	if c.DeactivationGrace < 0 {
		return fmt.Errorf("DEACTIVATION_GRACE must not be negative, got %s", c.DeactivationGrace)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	}
	if c.UpgradeRate <= 0 || c.UpgradeBurst <= 0 {
		return fmt.Errorf("upgrade limiter rate and burst must be positive")
	}

	return nil
}
