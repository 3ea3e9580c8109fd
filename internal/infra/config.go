package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. Loaded once at startup
// and treated as immutable afterwards: decisions read values from it, never
// mutate it, so every decision is reproducible from its inputs.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Hyperliquid struct {
			RestURL         string `yaml:"rest_url"`
			WSURL           string `yaml:"ws_url"`
			PollIntervalSec int    `yaml:"poll_interval_sec"`
		} `yaml:"hyperliquid"`
		Lighter struct {
			RestURL   string `yaml:"rest_url"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"lighter"`
	} `yaml:"api"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Trading struct {
		MaxPositionUSD        decimal.Decimal `yaml:"max_position_usd"`
		MinOrderUSD           decimal.Decimal `yaml:"min_order_usd"`
		DefaultMaxPositionUSD decimal.Decimal `yaml:"default_max_position_usd"`
		DefaultStopLossRatio  decimal.Decimal `yaml:"default_stop_loss_ratio"`
		BalanceCacheSec       int             `yaml:"balance_cache_sec"`
	} `yaml:"trading"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides for secrets, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.Hyperliquid.RestURL == "" || (!strings.HasPrefix(c.API.Hyperliquid.RestURL, "http://") && !strings.HasPrefix(c.API.Hyperliquid.RestURL, "https://")) {
		return fmt.Errorf("invalid Hyperliquid REST URL: %s", c.API.Hyperliquid.RestURL)
	}
	if c.API.Hyperliquid.WSURL != "" && !strings.HasPrefix(c.API.Hyperliquid.WSURL, "ws://") && !strings.HasPrefix(c.API.Hyperliquid.WSURL, "wss://") {
		return fmt.Errorf("invalid Hyperliquid WS URL: %s", c.API.Hyperliquid.WSURL)
	}
	if c.API.Hyperliquid.PollIntervalSec <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.API.Lighter.RestURL == "" || (!strings.HasPrefix(c.API.Lighter.RestURL, "http://") && !strings.HasPrefix(c.API.Lighter.RestURL, "https://")) {
		return fmt.Errorf("invalid Lighter REST URL: %s", c.API.Lighter.RestURL)
	}

	if c.Trading.DefaultStopLossRatio.IsNegative() || c.Trading.DefaultStopLossRatio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("stop loss ratio must be within [0, 1]")
	}
	if c.Trading.MinOrderUSD.IsNegative() {
		return fmt.Errorf("minimum order size cannot be negative")
	}

	return nil
}

// overrideWithEnv applies environment variables over file values so secrets
// stay out of the config file.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("HYPERTRACK_LIGHTER_KEY"); key != "" {
		cfg.API.Lighter.AccessKey = key
	}
	if secret := os.Getenv("HYPERTRACK_LIGHTER_SECRET"); secret != "" {
		cfg.API.Lighter.SecretKey = secret
	}
	if token := os.Getenv("HYPERTRACK_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
}
