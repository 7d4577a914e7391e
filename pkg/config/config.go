// Package config loads runtime configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/tecu23/ban-chess-server/pkg/abandon"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/presence"
	"github.com/tecu23/ban-chess-server/pkg/store"
)

// Config is the full runtime configuration. Command-line flags may override
// Debug and Port after loading.
type Config struct {
	Debug        bool     `env:"DEBUG"         envDefault:"false"`
	Port         string   `env:"PORT"          envDefault:"8080"`
	FrontendPath string   `env:"FRONTEND_PATH"`
	APIKeys      []string `env:"API_KEYS"      envSeparator:","`

	RageQuitAllowance   time.Duration `env:"RAGE_QUIT_ALLOWANCE"   envDefault:"10s"`
	DisconnectAllowance time.Duration `env:"DISCONNECT_ALLOWANCE"  envDefault:"120s"`
	WaitExtension       time.Duration `env:"WAIT_EXTENSION"        envDefault:"60s"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SoftThreshold time.Duration `env:"SOFT_THRESHOLD" envDefault:"30s"`

	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL"    envDefault:"25s"`
	TransportTimeout     time.Duration `env:"TRANSPORT_TIMEOUT"     envDefault:"30s"`
	ClassificationWindow time.Duration `env:"CLASSIFICATION_WINDOW" envDefault:"10s"`

	BanExhaustionEnds bool `env:"BAN_EXHAUSTION_ENDS" envDefault:"true"`
}

// Load reads .env if present, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StoreConfig maps onto the game store's allowances.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		RageQuitAllowance:   c.RageQuitAllowance,
		DisconnectAllowance: c.DisconnectAllowance,
		WaitExtension:       c.WaitExtension,
	}
}

// PresenceConfig maps onto the presence tracker's intervals.
func (c *Config) PresenceConfig() presence.Config {
	return presence.Config{
		HeartbeatInterval:    c.HeartbeatInterval,
		TransportTimeout:     c.TransportTimeout,
		ClassificationWindow: c.ClassificationWindow,
	}
}

// AbandonConfig maps onto the abandonment sweep.
func (c *Config) AbandonConfig() abandon.Config {
	return abandon.Config{
		SweepInterval: c.SweepInterval,
		SoftThreshold: c.SoftThreshold,
	}
}

// GameConfig maps onto the rules configuration.
func (c *Config) GameConfig() game.Config {
	return game.Config{BanExhaustionEnds: c.BanExhaustionEnds}
}
