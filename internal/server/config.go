package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/crowdsim/internal/core/crowd"
)

// Config holds the full server configuration. Zero values fall back to the
// defaults, so a partial YAML file only needs the knobs it changes.
type Config struct {
	// HTTPAddr serves the gateway: /feed, /healthz, /stats, /command.
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`
	// QUICAddr serves the QUIC notification feed. Empty disables it.
	QUICAddr string `yaml:"quic_addr" json:"quic_addr"`

	// TickRate is simulation steps per second; dt is its inverse.
	TickRate float64 `yaml:"tick_rate" json:"tick_rate"`

	// AssetPath points at a bundle file or directory. Empty runs the
	// built-in demo scene.
	AssetPath string `yaml:"asset_path" json:"asset_path"`

	// CommandToken guards POST /command. Empty leaves the endpoint open.
	CommandToken string `yaml:"command_token" json:"command_token"`

	// FeedBuffer is the per-subscriber frame buffer; a subscriber that
	// falls this far behind starts losing frames.
	FeedBuffer int `yaml:"feed_buffer" json:"feed_buffer"`

	// InboxLimit caps queued commands between ticks.
	InboxLimit int `yaml:"inbox_limit" json:"inbox_limit"`

	// MaxActive caps the number of full-fidelity agents; the rest run
	// reduced. Zero means no cap.
	MaxActive int `yaml:"max_active" json:"max_active"`

	// ShutdownGrace bounds the HTTP drain on stop.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Journal JournalConfig `yaml:"journal" json:"journal"`
	Sim     SimConfig     `yaml:"sim" json:"sim"`
	Spawn   []SpawnRule   `yaml:"spawn" json:"spawn"`
}

// JournalConfig controls the on-disk notification journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// SimConfig exposes the simulation knobs worth tuning from a config file.
type SimConfig struct {
	Seed           int64   `yaml:"seed" json:"seed"`
	ReducedCadence float64 `yaml:"reduced_cadence" json:"reduced_cadence"`
	ArriveRadius   float64 `yaml:"arrive_radius" json:"arrive_radius"`
	PoolSize       int     `yaml:"pool_size" json:"pool_size"`
}

func (c SimConfig) crowdConfig() crowd.Config {
	cfg := crowd.DefaultConfig()
	if c.Seed != 0 {
		cfg.Seed = c.Seed
	}
	if c.ReducedCadence > 0 {
		cfg.ReducedCadence = c.ReducedCadence
	}
	if c.ArriveRadius > 0 {
		cfg.ArriveRadius = c.ArriveRadius
	}
	if c.PoolSize > 0 {
		cfg.PoolSize = c.PoolSize
	}
	return cfg
}

// SpawnRule keeps one archetype's population flowing: PerSecond new agents
// up to Max alive at once.
type SpawnRule struct {
	Archetype string  `yaml:"archetype" json:"archetype"`
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Max       int     `yaml:"max" json:"max"`
}

// DefaultConfig returns the development configuration: gateway on localhost,
// QUIC feed off, built-in scene, journal off.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:      "127.0.0.1:8080",
		TickRate:      20,
		FeedBuffer:    256,
		InboxLimit:    1024,
		ShutdownGrace: 5 * time.Second,
		LogLevel:      "info",
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: http_addr is required", ErrInvalidConfig)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("%w: tick_rate must be positive, got %v", ErrInvalidConfig, c.TickRate)
	}
	if c.FeedBuffer <= 0 {
		return fmt.Errorf("%w: feed_buffer must be positive, got %d", ErrInvalidConfig, c.FeedBuffer)
	}
	if c.InboxLimit <= 0 {
		return fmt.Errorf("%w: inbox_limit must be positive, got %d", ErrInvalidConfig, c.InboxLimit)
	}
	if c.MaxActive < 0 {
		return fmt.Errorf("%w: max_active cannot be negative", ErrInvalidConfig)
	}
	if c.Journal.Enabled && c.Journal.Dir == "" {
		return fmt.Errorf("%w: journal.dir is required when the journal is enabled", ErrInvalidConfig)
	}
	for i, rule := range c.Spawn {
		if rule.Archetype == "" {
			return fmt.Errorf("%w: spawn[%d]: archetype is required", ErrInvalidConfig, i)
		}
		if rule.PerSecond < 0 {
			return fmt.Errorf("%w: spawn[%d]: per_second cannot be negative", ErrInvalidConfig, i)
		}
		if rule.Max < 0 {
			return fmt.Errorf("%w: spawn[%d]: max cannot be negative", ErrInvalidConfig, i)
		}
	}
	return nil
}

// LoadConfig reads a YAML config file over the defaults and validates the
// result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
