// Package config decodes the tunable knobs external to per-FD state:
// worker count, FD-table capacity, listener addresses and the poller
// backend preference order. Format follows the pack's own convention
// of TOML via BurntSushi/toml.
package config

import (
	"github.com/BurntSushi/toml"
)

// Listener describes one bind address the demo server accepts on.
type Listener struct {
	Network string `toml:"network"` // "tcp" or "unix"
	Address string `toml:"address"`
	Reuseport bool `toml:"reuseport"`
}

// Config is the zero-value-usable configuration for an fdcore-based
// server: a zero Config has sane single-worker defaults, so the core
// can be embedded without a config file.
type Config struct {
	// Workers is the number of dispatch workers (one poller instance
	// each). Zero or a negative value means one worker.
	Workers int `toml:"workers"`

	// TableCapacity bounds the FD table; zero means RLIMIT_NOFILE.
	TableCapacity int `toml:"table_capacity"`

	// Listeners are the data-plane listen addresses.
	Listeners []Listener `toml:"listener"`

	// Admin is the admin/stats protocol's listen address; empty
	// disables the admin listener entirely.
	Admin Listener `toml:"admin"`

	// BackendOrder names poller backends in preference order, matching
	// netpoll.Register names ("epoll", "kqueue"). Empty means "try
	// every registered backend in registration order".
	BackendOrder []string `toml:"backend_order"`
}

// Load decodes a TOML config file at path and applies defaults; the
// decoded values are not otherwise validated.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a usable zero-value configuration with defaults
// applied, for embedders that don't read a config file at all.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
}
