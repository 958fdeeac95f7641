package reconcile

import (
	"time"

	"github.com/smallbiznis/memberledger/internal/config"
)

// Config controls the pending-request recovery sweep.
type Config struct {
	RunInterval      time.Duration
	BatchSize        int
	PendingThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		BatchSize:        50,
		PendingThreshold: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PendingThreshold <= 0 {
		c.PendingThreshold = defaults.PendingThreshold
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      time.Duration(cfg.Reconcile.RunIntervalSeconds) * time.Second,
		BatchSize:        cfg.Reconcile.BatchSize,
		PendingThreshold: time.Duration(cfg.Reconcile.PendingThresholdSecs) * time.Second,
	}.withDefaults()
}
