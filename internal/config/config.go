package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBSource string `env:"DB_SOURCE,required"`
	Port     string `env:"SERVER_PORT" envDefault:"8080"`
	Env      string `env:"ENVIRONMENT" envDefault:"development"`

	// VaultKey is the base64-encoded 32-byte AES key protecting stored
	// credentials. The process must not start without a usable key.
	VaultKey string `env:"VAULT_KEY,required"`

	FeeRate        float64 `env:"FEE_RATE" envDefault:"0.03"`
	DefaultProxy   string  `env:"DEFAULT_PROXY"`
	PlatformUserID string  `env:"PLATFORM_USER_ID,required"`

	AlertWebhookURL string `env:"ALERT_WEBHOOK_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	OTPTimeout      time.Duration `env:"OTP_TIMEOUT" envDefault:"2m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		return nil, fmt.Errorf("FEE_RATE must be in [0, 1), got %v", cfg.FeeRate)
	}
	return &cfg, nil
}
