// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads process-wide settings for the aimeter service:
// provider pricing tables, per-service rate limits and window durations,
// daily cost ceiling, and backing-store connection details.
//
// Settings come from a YAML file with environment-variable overrides for
// the values that differ per deployment (DSNs, secrets, port). Pricing and
// limits are injected into the components at construction time; nothing in
// aimeter reads a global settings singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers for the metrics store.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// ProviderPricing describes how one provider's calls are priced: a USD rate
// per UnitSize units, where the unit is either characters or tokens.
// Token-metered providers carry separate input/output rates.
type ProviderPricing struct {
	Unit          string  `yaml:"unit"` // "character" or "token"
	UnitSize      int64   `yaml:"unit_size"`
	RatePerUnit   float64 `yaml:"rate_usd"`        // flat rate (character-metered)
	InputPerUnit  float64 `yaml:"input_rate_usd"`  // token-metered input rate
	OutputPerUnit float64 `yaml:"output_rate_usd"` // token-metered output rate
}

// ServiceLimit configures the fixed-window call-count ceiling for one
// rate-limited service key. Limit 0 means unlimited.
type ServiceLimit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"-"`
}

// UnmarshalYAML decodes the window as a duration string ("1h", "15m")
func (s *ServiceLimit) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Limit  int    `yaml:"limit"`
		Window string `yaml:"window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Limit = raw.Limit
	if raw.Window != "" {
		d, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", raw.Window, err)
		}
		s.Window = d
	}
	return nil
}

// Config holds all aimeter settings
type Config struct {
	// HTTP reporting facade
	Port        string `yaml:"port"`
	AdminSecret string `yaml:"admin_secret"`

	// Metrics store
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`

	// Rate limiter cache
	RedisURL string `yaml:"redis_url"`

	// Accounting behavior
	MetricsEnabled   bool    `yaml:"metrics_enabled"`
	StrictAccounting bool    `yaml:"strict_accounting"`
	DailyCostLimit   float64 `yaml:"daily_cost_limit_usd"`
	CostAlertsOn     bool    `yaml:"cost_alerts_enabled"`
	CostPrecision    int     `yaml:"cost_precision"`

	// Limiter behavior
	FailOpen      bool                    `yaml:"fail_open"`
	CombinedLimit int                     `yaml:"combined_limit"`
	Services      map[string]ServiceLimit `yaml:"services"`

	// Cost estimator tables
	Pricing map[string]ProviderPricing `yaml:"pricing"`
}

// Default returns the built-in configuration. Pricing constants mirror the
// published provider rates: Google Translate at $20 per 1M characters,
// Anthropic at $3/$15 per 1M input/output tokens.
func Default() *Config {
	return &Config{
		Port:           "8082",
		DatabaseDriver: DriverPostgres,
		MetricsEnabled: true,
		DailyCostLimit: 2.50,
		CostAlertsOn:   true,
		CostPrecision:  6,
		CombinedLimit:  200,
		Services: map[string]ServiceLimit{
			"anthropic": {Limit: 100, Window: time.Hour},
			"google":    {Limit: 100, Window: time.Hour},
		},
		Pricing: map[string]ProviderPricing{
			"google_translate": {
				Unit:        "character",
				UnitSize:    1_000_000,
				RatePerUnit: 20.0,
			},
			"anthropic": {
				Unit:          "token",
				UnitSize:      1_000_000,
				InputPerUnit:  3.0,
				OutputPerUnit: 15.0,
			},
		},
	}
}

// Load reads configuration from the YAML file at path (optional, pass ""
// to skip), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overrides deployment-specific values from the environment
func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DatabaseDriver = getEnv("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.AdminSecret = getEnv("AIMETER_ADMIN_SECRET", c.AdminSecret)

	if v := os.Getenv("AIMETER_DAILY_COST_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DailyCostLimit = f
		}
	}
	if v := os.Getenv("AIMETER_METRICS_ENABLED"); v != "" {
		c.MetricsEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AIMETER_FAIL_OPEN"); v != "" {
		c.FailOpen = v == "true" || v == "1"
	}
}

// Validate checks the configuration for operator errors. Misconfiguration
// fails at startup rather than surfacing later as "0 cost" or "always
// allowed".
func (c *Config) Validate() error {
	if c.DatabaseDriver != DriverPostgres && c.DatabaseDriver != DriverMySQL {
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.DatabaseDriver)
	}
	if c.DailyCostLimit < 0 {
		return fmt.Errorf("%w: daily cost limit must not be negative", ErrInvalidConfig)
	}
	if c.CostPrecision < 0 || c.CostPrecision > 12 {
		return fmt.Errorf("%w: cost precision must be between 0 and 12", ErrInvalidConfig)
	}
	if c.CombinedLimit < 0 {
		return fmt.Errorf("%w: combined limit must not be negative", ErrInvalidConfig)
	}

	for key, svc := range c.Services {
		if svc.Limit < 0 {
			return fmt.Errorf("%w: service %q limit must not be negative", ErrInvalidConfig, key)
		}
		if svc.Window <= 0 {
			return fmt.Errorf("%w: service %q window must be positive", ErrInvalidConfig, key)
		}
	}

	for provider, p := range c.Pricing {
		if p.Unit != "character" && p.Unit != "token" {
			return fmt.Errorf("%w: provider %q unit must be character or token", ErrInvalidConfig, provider)
		}
		if p.UnitSize <= 0 {
			return fmt.Errorf("%w: provider %q unit_size must be positive", ErrInvalidConfig, provider)
		}
		if p.RatePerUnit < 0 || p.InputPerUnit < 0 || p.OutputPerUnit < 0 {
			return fmt.Errorf("%w: provider %q rates must not be negative", ErrInvalidConfig, provider)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
