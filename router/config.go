package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-router-go/engine"
	"github.com/defistate/defistate-router-go/grapher"
	"github.com/defistate/defistate-router-go/mevpolicy"
)

// Config holds the tunables of a Router.
type Config struct {
	// Version is reported by Info.
	Version string `yaml:"version"`
	// MaxHops applies to route requests that set none.
	MaxHops  int                   `yaml:"max_hops"`
	Slippage engine.SlippageConfig `yaml:"slippage"`
	Scan     grapher.ScanParams    `yaml:"scan"`
	// MaxPriorityFee is the MEV warning threshold.
	MaxPriorityFee      uint64 `yaml:"max_priority_fee"`
	BundleBaseCost      uint64 `yaml:"bundle_base_cost"`
	MaxBundleOperations int    `yaml:"max_bundle_operations"`
	// SearchTimeout bounds every route search and scan. Zero disables it.
	SearchTimeout time.Duration `yaml:"search_timeout"`
	// MaxSearchSteps bounds the edge relaxations of a route search. Zero disables it.
	MaxSearchSteps   int `yaml:"max_search_steps"`
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Version:             "1.0.0",
		MaxHops:             4,
		Slippage:            engine.DefaultSlippageConfig(),
		Scan:                grapher.DefaultScanParams(),
		MaxPriorityFee:      mevpolicy.DefaultMaxPriorityFee,
		BundleBaseCost:      100,
		MaxBundleOperations: 100,
		SearchTimeout:       2 * time.Second,
		BatchConcurrency:    8,
	}
}

func (c *Config) validate() error {
	if c.Version == "" {
		return errors.New("config: Version is required")
	}
	if c.MaxHops < 1 {
		return errors.New("config: MaxHops must be at least 1")
	}
	if err := c.Slippage.Validate(); err != nil {
		return fmt.Errorf("config: Slippage is invalid: %w", err)
	}
	if c.Scan.MaxBorrowAmount <= 0 || c.Scan.MaxCycleLength < 2 {
		return errors.New("config: Scan needs a positive MaxBorrowAmount and MaxCycleLength of at least 2")
	}
	if c.MaxBundleOperations < 1 {
		return errors.New("config: MaxBundleOperations must be at least 1")
	}
	if c.SearchTimeout < 0 || c.MaxSearchSteps < 0 {
		return errors.New("config: search budgets cannot be negative")
	}
	if c.BatchConcurrency < 1 {
		return errors.New("config: BatchConcurrency must be at least 1")
	}
	return nil
}
