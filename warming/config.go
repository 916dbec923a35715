package warming

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a run exceeds WarmingTimeout. Entries
	// written before the deadline stay cached.
	ErrTimeout = errors.New("warming timed out")

	// ErrCancelled is returned when a run is stopped by CancelAll or Close.
	ErrCancelled = errors.New("warming cancelled")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("warming engine is closed")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid warming configuration")

	// ErrBackgroundRunning is returned when StartBackground is called twice.
	ErrBackgroundRunning = errors.New("background warming already running")
)

// Config holds warming engine settings.
type Config struct {
	// MaxConcurrentWarming bounds concurrent writes inside a batch and
	// concurrent sub-strategies of a Hybrid strategy.
	MaxConcurrentWarming int `yaml:"max_concurrent_warming"`

	// WarmingBatchSize is the number of candidates written per batch.
	WarmingBatchSize int `yaml:"warming_batch_size"`

	// PriorityThreshold is the minimum ActionPattern priority that is warmed.
	PriorityThreshold float64 `yaml:"priority_threshold"`

	// PreloadDepth is the default depth of the Related strategy.
	PreloadDepth int `yaml:"preload_depth"`

	// AdaptiveLearning tracks warmed keys and counts the ones later hit.
	AdaptiveLearning bool `yaml:"adaptive_learning"`

	// WarmingTimeout bounds a whole run.
	WarmingTimeout time.Duration `yaml:"warming_timeout"`

	// WarmTTL is the lifetime of warmed entries.
	WarmTTL time.Duration `yaml:"warm_ttl"`

	// StrategyPause and CyclePause space out background warming.
	StrategyPause time.Duration `yaml:"strategy_pause"`
	CyclePause    time.Duration `yaml:"cycle_pause"`

	// HistorySize bounds the recorded access history.
	HistorySize int `yaml:"history_size"`
}

// DefaultConfig returns the default warming configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWarming: 5,
		WarmingBatchSize:     50,
		PriorityThreshold:    0.7,
		PreloadDepth:         2,
		AdaptiveLearning:     true,
		WarmingTimeout:       30 * time.Second,
		WarmTTL:              time.Hour,
		StrategyPause:        5 * time.Second,
		CyclePause:           time.Minute,
		HistorySize:          10000,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentWarming < 1:
		return fmt.Errorf("%w: max concurrent warming must be at least 1", ErrInvalidConfig)
	case c.WarmingBatchSize < 1:
		return fmt.Errorf("%w: batch size must be at least 1", ErrInvalidConfig)
	case c.PriorityThreshold < 0 || c.PriorityThreshold > 1:
		return fmt.Errorf("%w: priority threshold must be within [0, 1]", ErrInvalidConfig)
	case c.PreloadDepth < 0:
		return fmt.Errorf("%w: preload depth must not be negative", ErrInvalidConfig)
	case c.WarmingTimeout <= 0:
		return fmt.Errorf("%w: warming timeout must be positive", ErrInvalidConfig)
	case c.WarmTTL <= 0:
		return fmt.Errorf("%w: warm ttl must be positive", ErrInvalidConfig)
	case c.StrategyPause < 0 || c.CyclePause < 0:
		return fmt.Errorf("%w: pauses must not be negative", ErrInvalidConfig)
	case c.HistorySize < 1:
		return fmt.Errorf("%w: history size must be at least 1", ErrInvalidConfig)
	}
	return nil
}
