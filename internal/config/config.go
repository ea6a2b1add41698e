// Package config loads and validates service configuration from a YAML file
// with SHIPFLO_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	API      APIConfig      `mapstructure:"api"`
	Merchant MerchantConfig `mapstructure:"merchant"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LogShip  LogShipConfig  `mapstructure:"log_ship"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

type AppConfig struct {
	Name       string `mapstructure:"name"`
	Env        string `mapstructure:"env"`
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	LogFile    string `mapstructure:"log_file"` // also the file shipped by the log pusher
	AdminToken string `mapstructure:"admin_token"`
	SecretSalt string `mapstructure:"secret_salt"` // site-wide salt the at-rest key is derived from
}

type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Version        string        `mapstructure:"version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSec     float64       `mapstructure:"rate_per_sec"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

// MerchantConfig is the store identity stamped on every payload.
type MerchantConfig struct {
	StoreName    string `mapstructure:"store_name"`
	StoreAddress string `mapstructure:"store_address"`
	SiteURL      string `mapstructure:"site_url"`
	Timezone     string `mapstructure:"timezone"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // empty selects the in-memory store
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty selects in-process guard/cache/broker
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogShipConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type DispatchConfig struct {
	MaxRetry int           `mapstructure:"max_retry"`
	GuardTTL time.Duration `mapstructure:"guard_ttl"`
}

// Load reads the config file at path and applies env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SHIPFLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.name", "shipflosync")
	v.SetDefault("app.env", "production")
	v.SetDefault("app.listen_addr", ":8080")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("api.base_url", "https://app.shipflo.com/api")
	v.SetDefault("api.version", "v1")
	v.SetDefault("api.request_timeout", 45*time.Second)
	v.SetDefault("api.rate_per_sec", 10.0)
	v.SetDefault("api.rate_burst", 5)
	v.SetDefault("merchant.timezone", "UTC")
	v.SetDefault("log_ship.enabled", true)
	v.SetDefault("log_ship.interval", 30*time.Minute)
	v.SetDefault("dispatch.max_retry", 5)
	v.SetDefault("dispatch.guard_ttl", 30*24*time.Hour)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with. Missing
// required values here are treated as fatal at startup.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.App.SecretSalt == "" {
		return fmt.Errorf("app.secret_salt is required")
	}
	if c.LogShip.Interval < 5*time.Minute || c.LogShip.Interval > 30*time.Minute {
		return fmt.Errorf("log_ship.interval must be between 5m and 30m")
	}
	if c.Dispatch.MaxRetry <= 0 {
		return fmt.Errorf("dispatch.max_retry must be positive")
	}
	return nil
}

// VerifyURL is the versioned verify-api-key endpoint.
func (c *Config) VerifyURL() string { return c.versioned("/verify-api-key") }

// PostalCodesURL is the versioned postal-codes endpoint.
func (c *Config) PostalCodesURL() string { return c.versioned("/postal-codes") }

// OrdersURL is the versioned orders/add endpoint.
func (c *Config) OrdersURL() string { return c.versioned("/orders/add") }

// LogsURL is the unversioned platform log sink.
func (c *Config) LogsURL() string {
	return strings.TrimRight(c.API.BaseURL, "/") + "/logs/woocommerce"
}

func (c *Config) versioned(path string) string {
	return strings.TrimRight(c.API.BaseURL, "/") + "/" + c.API.Version + "/" + strings.TrimLeft(path, "/")
}
