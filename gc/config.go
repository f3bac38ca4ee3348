package gc

import (
	"time"

	"github.com/tidalgc/tracegc/internal/mark"
)

// IncrementalConfig mirrors spec.md §6's incremental-marking
// configuration block.
type IncrementalConfig struct {
	Enabled             bool
	IncrementSize       int
	MaxDirtyPages       int
	RememberedBufferLen int
	SliceTimeout        time.Duration
}

// DefaultIncrementalConfig returns spec.md §6's literal defaults, with
// incremental marking enabled.
func DefaultIncrementalConfig() IncrementalConfig {
	d := mark.DefaultIncrementalConfig()
	return IncrementalConfig{
		Enabled:             true,
		IncrementSize:       d.IncrementSize,
		MaxDirtyPages:       d.MaxDirtyPages,
		RememberedBufferLen: 32,
		SliceTimeout:        d.SliceTimeout,
	}
}

func (c IncrementalConfig) toInternal() mark.IncrementalConfig {
	return mark.IncrementalConfig{
		IncrementSize: c.IncrementSize,
		MaxDirtyPages: c.MaxDirtyPages,
		SliceTimeout:  c.SliceTimeout,
	}
}

// ParallelConfig mirrors spec.md §6's parallel-marking configuration
// block.
type ParallelConfig struct {
	MaxWorkers    int
	QueueCapacity int
}

// DefaultParallelConfig returns spec.md §6's literal defaults:
// max_workers = min(cpus, 16), queue_capacity = 1024.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		MaxWorkers:    mark.DefaultMaxWorkers(),
		QueueCapacity: mark.DefaultQueueCapacity,
	}
}

// Config is the process-wide configuration a Collector is built from
// (spec.md §6 "Configuration (process-wide)").
type Config struct {
	Incremental IncrementalConfig
	Parallel    ParallelConfig

	// LazySweepBudget bounds slow-path lazy-sweep work per allocation
	// (spec.md §4.7 "budget=16").
	LazySweepBudget int
}

// DefaultConfig returns a Config built entirely from spec.md §6's
// stated defaults.
func DefaultConfig() Config {
	return Config{
		Incremental:     DefaultIncrementalConfig(),
		Parallel:        DefaultParallelConfig(),
		LazySweepBudget: 16,
	}
}

// Option customizes a Config before a Collector is built from it,
// following the functional-options pattern the rest of this module's
// ambient stack uses for construction.
type Option func(*Config)

// WithIncrementalConfig overrides the incremental-marking configuration.
func WithIncrementalConfig(c IncrementalConfig) Option {
	return func(cfg *Config) { cfg.Incremental = c }
}

// WithParallelConfig overrides the parallel-marking configuration.
func WithParallelConfig(c ParallelConfig) Option {
	return func(cfg *Config) { cfg.Parallel = c }
}

// WithLazySweepBudget overrides the per-allocation lazy-sweep budget.
func WithLazySweepBudget(n int) Option {
	return func(cfg *Config) { cfg.LazySweepBudget = n }
}

// DisableIncremental turns off incremental marking entirely; every
// Collect() becomes a single stop-the-world pass (spec.md §4.6
// "incremental: {enabled: bool ...}").
func DisableIncremental() Option {
	return func(cfg *Config) { cfg.Incremental.Enabled = false }
}
