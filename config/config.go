package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"ENVIRONMENT"`

	// Storage selects the subscription backend: "memory" or "redis".
	Storage       string `mapstructure:"STORAGE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// DeliveryTimeoutSeconds bounds each outbound HTTP attempt.
	DeliveryTimeoutSeconds int `mapstructure:"DELIVERY_TIMEOUT_SECONDS"`

	// RateLimitPerWindow / RateLimitWindowSeconds tune the per-subscription
	// sliding window.
	RateLimitPerWindow     int `mapstructure:"RATE_LIMIT_PER_WINDOW"`
	RateLimitWindowSeconds int `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`

	// EventsFile optionally points at an events.yaml catalog; empty uses
	// the built-in catalog.
	EventsFile string `mapstructure:"EVENTS_FILE"`

	// MaxDeliveryRecords bounds the in-memory delivery history.
	MaxDeliveryRecords int `mapstructure:"MAX_DELIVERY_RECORDS"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("STORAGE", "memory")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("DELIVERY_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RATE_LIMIT_PER_WINDOW", 100)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.SetDefault("MAX_DELIVERY_RECORDS", 10000)

	// The .env file is optional; environment variables alone are enough.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

// DeliveryTimeout returns the configured per-attempt timeout.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

// RateLimitWindow returns the configured sliding-window span.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
