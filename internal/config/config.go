// Package config loads the runtime settings of the taptik server from an
// optional file and TAPTIK_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/taptik/internal/common"
	"github.com/spf13/viper"
)

// Config captures the server runtime parameters.
type Config struct {
	Server              ServerConfig        `mapstructure:"server"`
	RateLimit           RateLimitConfig     `mapstructure:"rate_limit"`
	LogLevel            string              `mapstructure:"log_level"`
	SecretKey           string              `mapstructure:"secret_key"`
	DatabaseDSN         string              `mapstructure:"database_dsn"`
	Auth                AuthConfig          `mapstructure:"auth"`
	Calls               CallsConfig         `mapstructure:"calls"`
	Notifications       NotificationsConfig `mapstructure:"notifications"`
	ShutdownGracePeriod time.Duration       `mapstructure:"shutdown_grace_period"`
}

// ServerConfig holds the HTTP and WebSocket listener settings.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxMessageSize int64    `mapstructure:"max_message_size"`
	SendBuffer     int      `mapstructure:"send_buffer"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// AuthConfig enables signed-token identities when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CallsConfig tunes the call relay.
type CallsConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

// NotificationsConfig tunes the notification ledger.
type NotificationsConfig struct {
	Retention int `mapstructure:"retention"`
}

const (
	defaultAddr                = ":8080"
	defaultOrigin              = "http://localhost:8080"
	defaultMaxMessageSize      = 64 * 1024
	defaultSendBuffer          = 256
	defaultBurst               = 20
	defaultRefillInterval      = time.Second
	defaultLogLevel            = "info"
	defaultRingTimeout         = 45 * time.Second
	defaultRetention           = 500
	defaultShutdownGracePeriod = 10 * time.Second
)

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           defaultAddr,
			AllowedOrigins: []string{defaultOrigin},
			MaxMessageSize: defaultMaxMessageSize,
			SendBuffer:     defaultSendBuffer,
		},
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		LogLevel:            defaultLogLevel,
		Calls:               CallsConfig{RingTimeout: defaultRingTimeout},
		Notifications:       NotificationsConfig{Retention: defaultRetention},
		ShutdownGracePeriod: defaultShutdownGracePeriod,
	}
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with TAPTIK_ and can override file values;
// SECRET_KEY is accepted as well for the message secret.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAPTIK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_message_size", d.Server.MaxMessageSize)
	v.SetDefault("server.send_buffer", d.Server.SendBuffer)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval.String())
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("secret_key", "")
	v.SetDefault("database_dsn", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("calls.ring_timeout", d.Calls.RingTimeout.String())
	v.SetDefault("notifications.retention", d.Notifications.Retention)
	v.SetDefault("shutdown_grace_period", d.ShutdownGracePeriod.String())

	if err := v.BindEnv("secret_key", "TAPTIK_SECRET_KEY", "SECRET_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind secret_key: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return Sanitize(cfg), nil
}

// Sanitize replaces unset or non-positive values with defaults and trims
// the origin list.
func Sanitize(cfg Config) Config {
	d := Default()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = d.Server.MaxMessageSize
	}
	if cfg.Server.SendBuffer <= 0 {
		cfg.Server.SendBuffer = d.Server.SendBuffer
	}
	cfg.Server.AllowedOrigins = parseOrigins(cfg.Server.AllowedOrigins)

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	if cfg.Calls.RingTimeout <= 0 {
		cfg.Calls.RingTimeout = d.Calls.RingTimeout
	}
	if cfg.Notifications.Retention <= 0 {
		cfg.Notifications.Retention = d.Notifications.Retention
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = d.ShutdownGracePeriod
	}
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	return cfg
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%w: secret_key (or SECRET_KEY) must be set", common.ErrConfiguration)
	}
	return nil
}

// parseOrigins splits comma-joined entries and drops blanks.
func parseOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
