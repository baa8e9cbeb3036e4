package server

import (
	"time"

	"github.com/Tyrowin/taptik/internal/config"
)

// Settings are the per-connection limits the hub applies to every client.
type Settings struct {
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      config.RateLimitConfig
}

func defaultSettings() Settings {
	return Settings{
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
		RateLimit: config.RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

// SettingsFrom extracts the connection limits from cfg.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		MaxMessageSize: cfg.Server.MaxMessageSize,
		SendBuffer:     cfg.Server.SendBuffer,
		RateLimit:      cfg.RateLimit,
	}
}

func sanitizeSettings(s Settings) Settings {
	d := defaultSettings()
	if s.MaxMessageSize <= 0 {
		s.MaxMessageSize = d.MaxMessageSize
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = d.SendBuffer
	}
	if s.RateLimit.Burst <= 0 {
		s.RateLimit.Burst = d.RateLimit.Burst
	}
	if s.RateLimit.RefillInterval <= 0 {
		s.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	return s
}
