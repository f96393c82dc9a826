package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	JWTSecret       string        `env:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" default:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" default:"168h"` // 7 days

	// RevocationFailPolicy decides what token verification does when the
	// revocation cache is unreachable: "closed" rejects tokens, "open"
	// honors them.
	RevocationFailPolicy string        `env:"REVOCATION_FAIL_POLICY" default:"closed"`
	RevocationOpTimeout  time.Duration `env:"REVOCATION_OP_TIMEOUT" default:"50ms"`

	OutboxPartitions   int           `env:"OUTBOX_PARTITIONS" default:"4"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" default:"200ms"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
		"JWT_SECRET":   cfg.JWTSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	keyBytes, err := hex.DecodeString(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("JWT_SECRET must be valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("JWT_SECRET must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
	}

	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	if cfg.RevocationFailPolicy != "open" && cfg.RevocationFailPolicy != "closed" {
		return fmt.Errorf("REVOCATION_FAIL_POLICY must be \"open\" or \"closed\", got %q", cfg.RevocationFailPolicy)
	}

	if cfg.OutboxPartitions < 1 || cfg.OutboxPartitions > 64 {
		return fmt.Errorf("OUTBOX_PARTITIONS must be between 1 and 64, got %d", cfg.OutboxPartitions)
	}

	return nil
}

// JWTSecretBytes returns the decoded signing key. Call after Load, which
// already validated the hex encoding.
func (c *Config) JWTSecretBytes() []byte {
	b, _ := hex.DecodeString(c.JWTSecret)
	return b
}

// FailOpen reports whether verification should honor tokens when the
// revocation cache is down.
func (c *Config) FailOpen() bool {
	return c.RevocationFailPolicy == "open"
}
