// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the api binary.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	JWTSecret                  string `mapstructure:"JWT_SECRET"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	AppOrigin                  string `mapstructure:"APP_ORIGIN"`
	DefaultCurrency            string `mapstructure:"DEFAULT_CURRENCY"`
	ValidationWindowHours      int    `mapstructure:"VALIDATION_WINDOW_HOURS"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventExchange              string `mapstructure:"EVENT_EXCHANGE"`
	PaymentAPIBaseURL          string `mapstructure:"PAYMENT_API_BASE_URL"`
	PaymentAPIKey              string `mapstructure:"PAYMENT_API_KEY"`
	AutoCompleteSchedule       string `mapstructure:"AUTO_COMPLETE_SCHEDULE"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`
	SubscriptionExpirySchedule string `mapstructure:"SUBSCRIPTION_EXPIRY_SCHEDULE"`
	MigrateOnStart             bool   `mapstructure:"MIGRATE_ON_START"`
}

var keys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"JWT_SECRET",
	"INTERNAL_API_KEY",
	"APP_ORIGIN",
	"DEFAULT_CURRENCY",
	"VALIDATION_WINDOW_HOURS",
	"RABBITMQ_URL",
	"EVENT_EXCHANGE",
	"PAYMENT_API_BASE_URL",
	"PAYMENT_API_KEY",
	"AUTO_COMPLETE_SCHEDULE",
	"RECONCILE_SCHEDULE",
	"SUBSCRIPTION_EXPIRY_SCHEDULE",
	"MIGRATE_ON_START",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ORIGIN", "http://localhost:5173")
	viper.SetDefault("DEFAULT_CURRENCY", "XOF")
	viper.SetDefault("VALIDATION_WINDOW_HOURS", 72)
	viper.SetDefault("EVENT_EXCHANGE", "fidexa.events")
	viper.SetDefault("AUTO_COMPLETE_SCHEDULE", "@every 1m")
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 5m")
	viper.SetDefault("SUBSCRIPTION_EXPIRY_SCHEDULE", "@hourly")
	viper.SetDefault("MIGRATE_ON_START", true)
	viper.AutomaticEnv()

	// Unmarshal only sees keys viper already knows about.
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.AppOrigin = strings.TrimRight(strings.TrimSpace(cfg.AppOrigin), "/")
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))

	for key, value := range map[string]string{
		"DATABASE_URL":     cfg.DatabaseURL,
		"JWT_SECRET":       cfg.JWTSecret,
		"INTERNAL_API_KEY": cfg.InternalAPIKey,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("config: %s is required", key)
		}
	}
	if cfg.ValidationWindowHours <= 0 {
		return nil, fmt.Errorf("config: VALIDATION_WINDOW_HOURS must be positive, got %d", cfg.ValidationWindowHours)
	}

	return &cfg, nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}
