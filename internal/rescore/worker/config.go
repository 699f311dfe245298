package worker

import (
	"time"

	appconfig "github.com/smallbiznis/sentinel/internal/config"
)

// Config controls the rescore signal worker loop.
type Config struct {
	Enabled      bool
	BatchSize    int
	PollInterval time.Duration
	RunTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		BatchSize:    50,
		PollInterval: 30 * time.Second,
		RunTimeout:   2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}

// FromAppConfig maps process configuration onto the worker config.
func FromAppConfig(cfg appconfig.Config) Config {
	wc := cfg.RescoreWorker
	return Config{
		Enabled:      wc.Enabled,
		BatchSize:    wc.BatchSize,
		PollInterval: time.Duration(wc.IntervalSeconds) * time.Second,
		RunTimeout:   time.Duration(wc.TimeoutSeconds) * time.Second,
	}.withDefaults()
}
