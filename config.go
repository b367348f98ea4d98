package framecache

import (
	"github.com/annoframe/framecache/governor"
	"github.com/annoframe/framecache/perf"
	"github.com/annoframe/framecache/preload"
)

// Config gathers every tunable for the cache and its collaborators into
// one value. Zero Config is not meant to be used directly; start from
// DefaultConfig and override only the fields that matter for the caller.
type Config struct {
	// MaxEntries bounds the store independently of byte accounting, a
	// defensive cap against a pathologically small average frame size.
	// 0 means DefaultConfig's value.
	MaxEntries int

	// Byte budget thresholds. Zero fields fall back to governor.DefaultConfig().
	HardLimitBytes           int64
	SoftLimitBytes           int64
	TargetAfterEvictionBytes int64

	// PreloadBack/PreloadForward/WorkerCount/PrefetchDeadlineMs configure
	// the Preload Scheduler.
	PreloadBack        int
	PreloadForward     int
	WorkerCount        int
	PrefetchDeadlineMs int

	// FrameSwitchBudgetMs/WarnThresholdMs/HardThresholdMs configure the
	// Performance Timer.
	FrameSwitchBudgetMs float64
	WarnThresholdMs     float64
	HardThresholdMs     float64

	// PredictorWindow sizes the Access Predictor's ring buffer.
	// 0 means DefaultConfig's value.
	PredictorWindow int
}

// DefaultConfig assembles sensible defaults from each component's own
// DefaultConfig so the two never drift apart.
func DefaultConfig() Config {
	g := governor.DefaultConfig()
	p := preload.DefaultConfig()
	t := perf.DefaultConfig()
	return Config{
		MaxEntries:               200,
		HardLimitBytes:           g.HardLimitBytes,
		SoftLimitBytes:           g.SoftLimitBytes,
		TargetAfterEvictionBytes: g.TargetAfterEvictionBytes,
		PreloadBack:              p.PreloadBack,
		PreloadForward:           p.PreloadForward,
		WorkerCount:              p.WorkerCount,
		PrefetchDeadlineMs:       p.PrefetchDeadlineMs,
		FrameSwitchBudgetMs:      t.FrameSwitchBudgetMs,
		WarnThresholdMs:          t.WarnThresholdMs,
		HardThresholdMs:          t.HardThresholdMs,
		PredictorWindow:          64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.HardLimitBytes <= 0 {
		c.HardLimitBytes = d.HardLimitBytes
	}
	if c.SoftLimitBytes <= 0 {
		c.SoftLimitBytes = d.SoftLimitBytes
	}
	if c.TargetAfterEvictionBytes <= 0 {
		c.TargetAfterEvictionBytes = d.TargetAfterEvictionBytes
	}
	if c.PreloadBack <= 0 {
		c.PreloadBack = d.PreloadBack
	}
	if c.PreloadForward <= 0 {
		c.PreloadForward = d.PreloadForward
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.PrefetchDeadlineMs <= 0 {
		c.PrefetchDeadlineMs = d.PrefetchDeadlineMs
	}
	if c.FrameSwitchBudgetMs <= 0 {
		c.FrameSwitchBudgetMs = d.FrameSwitchBudgetMs
	}
	if c.WarnThresholdMs <= 0 {
		c.WarnThresholdMs = d.WarnThresholdMs
	}
	if c.HardThresholdMs <= 0 {
		c.HardThresholdMs = d.HardThresholdMs
	}
	if c.PredictorWindow <= 0 {
		c.PredictorWindow = d.PredictorWindow
	}
	return c
}

func (c Config) governorConfig() governor.Config {
	return governor.Config{
		HardLimitBytes:           c.HardLimitBytes,
		SoftLimitBytes:           c.SoftLimitBytes,
		TargetAfterEvictionBytes: c.TargetAfterEvictionBytes,
		GraceMarginBytes:         governor.DefaultConfig().GraceMarginBytes,
		GraceInterval:            governor.DefaultConfig().GraceInterval,
	}
}

func (c Config) preloadConfig() preload.Config {
	return preload.Config{
		WorkerCount:        c.WorkerCount,
		PreloadBack:        c.PreloadBack,
		PreloadForward:     c.PreloadForward,
		PrefetchDeadlineMs: c.PrefetchDeadlineMs,
	}
}

func (c Config) perfConfig() perf.Config {
	return perf.Config{
		FrameSwitchBudgetMs: c.FrameSwitchBudgetMs,
		WarnThresholdMs:     c.WarnThresholdMs,
		HardThresholdMs:     c.HardThresholdMs,
		RingSize:            perf.DefaultConfig().RingSize,
	}
}
