// Package config provides configuration management for the price stream client
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Feed sources
const (
	SourceSSE   = "sse"
	SourceChain = "chain"
)

// Config holds the application configuration
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Source      string        `envconfig:"FEED_SOURCE" default:"sse"`                                         // sse or chain
	FeedURL     string        `envconfig:"FEED_URL" default:"http://localhost:8080/api/price-adjustments"` // event stream endpoint
	GracePeriod time.Duration `envconfig:"GRACE_PERIOD" default:"1s"`
	MaxAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"5"`
	BaseDelay   time.Duration `envconfig:"RECONNECT_BASE_DELAY" default:"1s"`
	MaxDelay    time.Duration `envconfig:"RECONNECT_MAX_DELAY" default:"30s"`
	HistorySize int           `envconfig:"HISTORY_SIZE" default:"10"`

	CatalogURL string `envconfig:"CATALOG_URL"` // storefront REST base, enables warm start
	Token      string `envconfig:"API_TOKEN"`

	ChainRPC string `envconfig:"CHAIN_RPC"` // websocket RPC URL
	Contract string `envconfig:"CONTRACT"`  // PriceAdjusted emitter

	RedisURL    string `envconfig:"REDIS_URL"`
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"pricefeed"`
}

// Option is a function that modifies Config
type Option func(*Config) error

// WithEnvFile loads configuration from a .env file. Variables already set in
// the environment take precedence over the file.
func WithEnvFile(path string) Option {
	return func(c *Config) error {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}

		if err := envconfig.Process("", c); err != nil {
			return fmt.Errorf("failed to process config: %w", err)
		}

		return nil
	}
}

// WithSource selects the feed source
func WithSource(source string) Option {
	return func(c *Config) error {
		c.Source = source

		return nil
	}
}

// WithFeedURL sets the event stream endpoint
func WithFeedURL(feedURL string) Option {
	return func(c *Config) error {
		c.FeedURL = feedURL

		return nil
	}
}

// validate performs validation on the config values
func (c *Config) validate() error {
	switch c.Source {
	case SourceSSE:
		if err := validateURL("feed", c.FeedURL, "http", "https"); err != nil {
			return err
		}
	case SourceChain:
		if c.ChainRPC == "" {
			return errors.New("CHAIN_RPC is required for the chain source")
		}

		if err := validateURL("chain RPC", c.ChainRPC, "ws", "wss", "http", "https"); err != nil {
			return err
		}

		if !common.IsHexAddress(c.Contract) {
			return fmt.Errorf("invalid contract address: %s", c.Contract)
		}
	default:
		return fmt.Errorf("unknown feed source %q", c.Source)
	}

	if c.CatalogURL != "" {
		if err := validateURL("catalog", c.CatalogURL, "http", "https"); err != nil {
			return err
		}
	}

	if c.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative: %s", c.GracePeriod)
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative: %d", c.MaxAttempts)
	}

	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("invalid reconnect delays: base %s, max %s", c.BaseDelay, c.MaxDelay)
	}

	if c.HistorySize < 1 {
		return fmt.Errorf("history size must be positive: %d", c.HistorySize)
	}

	if c.RedisURL != "" && c.RedisPrefix == "" {
		return errors.New("REDIS_PREFIX must not be empty")
	}

	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %s", name, raw)
	}

	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}

	return fmt.Errorf("invalid %s URL scheme: %s", name, raw)
}

// NewConfig creates a new validated Config instance
func NewConfig(opts ...Option) (*Config, error) {
	var cfg Config

	// Process environment variables first
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	// Apply user options last so they take precedence
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			log.Warn().Err(err).Msg("⚠️ option application failed")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Env returns the parsed deployment environment
func (c *Config) Env() Environment {
	return ParseEnvironment(c.Environment)
}
