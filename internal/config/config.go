package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port            int           `env:"PORT" envDefault:"3000"`
	GinMode         string        `env:"GIN_MODE" envDefault:"release"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
	Log             LogConfig
	Telegram        TelegramConfig
	Relay           RelayConfig
	Auth            AuthConfig
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type TelegramConfig struct {
	BotToken  string `env:"BOT_TOKEN,required,notEmpty"`
	ServerURL string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
}

type RelayConfig struct {
	MetadataTimeout    time.Duration `env:"RELAY_METADATA_TIMEOUT" envDefault:"15s"`
	ContentTimeout     time.Duration `env:"RELAY_CONTENT_TIMEOUT" envDefault:"30s"`
	DefaultFilename    string        `env:"RELAY_DEFAULT_FILENAME" envDefault:"download.apk"`
	DefaultContentType string        `env:"RELAY_DEFAULT_CONTENT_TYPE" envDefault:"application/vnd.android.package-archive"`
	AllowOrigin        string        `env:"ALLOW_ORIGIN" envDefault:"*"`
}

type AuthConfig struct {
	APIKey             string `env:"API_KEY"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"0"`
}

// Load reads an optional .env file, then the process environment. Variables
// already set in the environment take precedence over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.Relay.MetadataTimeout <= 0 {
		return fmt.Errorf("invalid RELAY_METADATA_TIMEOUT: %s", c.Relay.MetadataTimeout)
	}
	if c.Relay.ContentTimeout <= 0 {
		return fmt.Errorf("invalid RELAY_CONTENT_TIMEOUT: %s", c.Relay.ContentTimeout)
	}
	if c.Auth.RateLimitPerMinute < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %d", c.Auth.RateLimitPerMinute)
	}
	return nil
}
