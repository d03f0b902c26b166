// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type APIConfig struct {
	Port       int           `yaml:"port"`
	RateLimit  int           `yaml:"rate_limit"`  // initiations per window per user
	RateWindow time.Duration `yaml:"rate_window"` // fixed window size
}

type AdminConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PaymentConfig struct {
	Daraja struct {
		ConsumerKey    string `yaml:"consumer_key"`
		ConsumerSecret string `yaml:"consumer_secret"`
		Shortcode      string `yaml:"shortcode"`
		Passkey        string `yaml:"passkey"`
		CallbackURL    string `yaml:"callback_url"`
		Sandbox        bool   `yaml:"sandbox"`
	} `yaml:"daraja"`
	PayLinkBase string `yaml:"pay_link_base"` // base URL for upgrade shortfall prompts
}

type SchedulerConfig struct {
	ExpiryInterval    time.Duration `yaml:"expiry_interval"`
	ProrationInterval time.Duration `yaml:"proration_interval"`
	ProrationLookback time.Duration `yaml:"proration_lookback"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	MaxRetries        int           `yaml:"max_retries"`
}

type SecurityConfig struct {
	AdminAPIKey string `yaml:"admin_api_key"`
	JWTSecret   string `yaml:"jwt_secret"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Payment.Daraja.CallbackURL == "" {
		return nil, errors.New("payment.daraja.callback_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.API.Port <= 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.RateLimit <= 0 {
		cfg.API.RateLimit = 5
	}
	if cfg.API.RateWindow <= 0 {
		cfg.API.RateWindow = time.Minute
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 8081
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 8
	}
	if cfg.Scheduler.ExpiryInterval <= 0 {
		cfg.Scheduler.ExpiryInterval = 24 * time.Hour
	}
	if cfg.Scheduler.ProrationInterval <= 0 {
		cfg.Scheduler.ProrationInterval = time.Minute
	}
	if cfg.Scheduler.ProrationLookback <= 0 {
		cfg.Scheduler.ProrationLookback = 15 * time.Minute
	}
	if cfg.Scheduler.RetryDelay <= 0 {
		cfg.Scheduler.RetryDelay = 15 * time.Second
	}
	if cfg.Scheduler.MaxRetries <= 0 {
		cfg.Scheduler.MaxRetries = 2
	}
}
