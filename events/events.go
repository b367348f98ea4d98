package events

import (
	"time"

	"github.com/annoframe/framecache/frame"
)

// Severity classifies a PerformanceWarning.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// --- produced events ---

// CacheHit is published on every get() that resolves from residency.
type CacheHit struct {
	Key       frame.Key
	ElapsedMs float64
}

// CacheMiss is published on every get() that had to go through the loader.
type CacheMiss struct {
	Key           frame.Key
	LoadElapsedMs float64
}

// MemoryUsage is published on every admission and on the governor's
// 1-second timer.
type MemoryUsage struct {
	ResidentBytes int64
	HardLimit     int64
	UsageRatio    float64
}

// PerformanceWarning is published when a latency or hit-rate threshold is
// crossed, or when the memory governor rejects an admission.
type PerformanceWarning struct {
	Metric    string
	Value     float64
	Threshold float64
	Severity  Severity
}

// PreloadPaused is published when the governor asks the scheduler to pause
// background prefetching.
type PreloadPaused struct {
	Reason string
}

// PreloadResumed is published when prefetching resumes.
type PreloadResumed struct{}

// --- consumed events ---

// Direction is an explicit hint about cursor motion, supplied by the UI or
// inferred by the predictor.
type Direction int

const (
	DirectionUnknown Direction = iota
	Forward
	Backward
	Stationary
	Random
)

// FrameChanged is published by the UI (or test harness) whenever the
// operator moves to a new frame. The scheduler recomputes its prefetch
// window from this and feeds the predictor.
type FrameChanged struct {
	CurrentKey    frame.Key
	PreviousKey   frame.Key
	DirectionHint Direction // DirectionUnknown if not supplied
	At            time.Time
}

// ProjectOpened resets the cache and configures the known key bounds.
type ProjectOpened struct {
	FrameRange frame.Range
}
