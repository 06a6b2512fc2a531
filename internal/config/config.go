// Package config handles configuration loading for the slideview server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Slides    []SlideConfig   `yaml:"slides"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Index     IndexConfig     `yaml:"index"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// SlideConfig describes one slide served by this process.
type SlideConfig struct {
	ID        string `yaml:"id"`
	TileBase  string `yaml:"tile_base"`
	PointsURL string `yaml:"points_url"`
}

// SchedulerConfig contains tile fetch settings.
type SchedulerConfig struct {
	MaxConcurrency    int `yaml:"max_concurrency"`
	MaxRetries        int `yaml:"max_retries"`
	RetryBaseDelayMs  int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs   int `yaml:"retry_max_delay_ms"`
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	MaxTiles       int `yaml:"max_tiles"`
	PayloadSizeMB  int `yaml:"payload_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	QuerySize      int `yaml:"query_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	ViewportWidth  int     `yaml:"viewport_width"`
	ViewportHeight int     `yaml:"viewport_height"`
	TileSize       int     `yaml:"tile_size"`
	PointSize      float64 `yaml:"point_size"`
	StrokeWidth    float64 `yaml:"stroke_width"`
}

// IndexConfig contains spatial index settings.
type IndexConfig struct {
	DensityScale float64 `yaml:"density_scale"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Scheduler: SchedulerConfig{
			MaxConcurrency:    6,
			MaxRetries:        3,
			RetryBaseDelayMs:  250,
			RetryMaxDelayMs:   8000,
			RequestTimeoutSec: 30,
		},
		Cache: CacheConfig{
			MaxTiles:       256,
			PayloadSizeMB:  512,
			TileTTLMinutes: 10,
			QuerySize:      128,
		},
		Render: RenderConfig{
			ViewportWidth:  1024,
			ViewportHeight: 768,
			TileSize:       256,
			PointSize:      3,
			StrokeWidth:    1,
		},
		Index: IndexConfig{
			DensityScale: 1,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Scheduler.MaxConcurrency == 0 {
		cfg.Scheduler.MaxConcurrency = defaults.Scheduler.MaxConcurrency
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = defaults.Scheduler.MaxRetries
	}
	if cfg.Scheduler.RetryBaseDelayMs == 0 {
		cfg.Scheduler.RetryBaseDelayMs = defaults.Scheduler.RetryBaseDelayMs
	}
	if cfg.Scheduler.RetryMaxDelayMs == 0 {
		cfg.Scheduler.RetryMaxDelayMs = defaults.Scheduler.RetryMaxDelayMs
	}
	if cfg.Scheduler.RequestTimeoutSec == 0 {
		cfg.Scheduler.RequestTimeoutSec = defaults.Scheduler.RequestTimeoutSec
	}
	if cfg.Cache.MaxTiles == 0 {
		cfg.Cache.MaxTiles = defaults.Cache.MaxTiles
	}
	if cfg.Cache.PayloadSizeMB == 0 {
		cfg.Cache.PayloadSizeMB = defaults.Cache.PayloadSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = defaults.Cache.QuerySize
	}
	if cfg.Render.ViewportWidth == 0 {
		cfg.Render.ViewportWidth = defaults.Render.ViewportWidth
	}
	if cfg.Render.ViewportHeight == 0 {
		cfg.Render.ViewportHeight = defaults.Render.ViewportHeight
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.PointSize == 0 {
		cfg.Render.PointSize = defaults.Render.PointSize
	}
	if cfg.Render.StrokeWidth == 0 {
		cfg.Render.StrokeWidth = defaults.Render.StrokeWidth
	}
	if cfg.Index.DensityScale == 0 {
		cfg.Index.DensityScale = defaults.Index.DensityScale
	}
}
