// Package config loads gateway settings from the environment and an optional
// .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds gateway configuration.
type Config struct {
	// ListenAddr is the address the gateway listens on (e.g. :3000).
	ListenAddr string `mapstructure:"LISTEN_ADDR"`
	// AppID identifies the application on the platform. Required.
	AppID string `mapstructure:"APP_ID"`
	// APIHost is the platform API base URL.
	APIHost string `mapstructure:"API_HOST"`
	// StreamHost is the platform streaming base URL.
	StreamHost string `mapstructure:"STREAM_HOST"`
	// Env is the application environment; "production" marks cookies Secure.
	Env string `mapstructure:"APP_ENV"`
	// SessionCookie is the name of the HTTP-only session cookie.
	SessionCookie string `mapstructure:"SESSION_COOKIE"`
	// SessionTTL is the cookie lifetime (e.g. "168h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// RequestTimeout bounds non-streaming platform calls (e.g. "30s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":3000")
	v.SetDefault("APP_ID", "")
	v.SetDefault("API_HOST", "https://api.directual.com")
	v.SetDefault("STREAM_HOST", "https://api.alfa.directual.com")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("SESSION_COOKIE", "app_session")
	v.SetDefault("SESSION_TTL", "168h") // 7d
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.AppID == "" {
		return nil, errors.New("config: APP_ID must be set")
	}
	if cfg.ListenAddr == "" {
		return nil, errors.New("config: LISTEN_ADDR must be set")
	}
	if cfg.APIHost == "" {
		return nil, errors.New("config: API_HOST must be set")
	}
	return &cfg, nil
}

// Production reports whether the gateway runs in production.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// CookieTTL parses SessionTTL. Returns 168h if unset or invalid.
func (c *Config) CookieTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// Timeout parses RequestTimeout. Returns 30s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
