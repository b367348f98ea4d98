// Package perf implements the Performance Timer & Alert Bus: continuous
// measurement of the frame-switch latency budget, rolling latency
// statistics, and the automatic corrective actions triggered by sustained
// violations.
//
// The ring buffer and percentile-on-snapshot approach replace plain
// hit/miss/evict counters with a fixed-size sample history so percentiles
// can be computed on demand, under the same lock-guarded-counter discipline
// used for the resident-bytes and eviction bookkeeping elsewhere.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/annoframe/framecache/events"
)

const (
	defaultRingSize   = 1000
	recentWindow      = 100
	minHitRateWindow  = 200
	sustainedErrors   = 3
	sustainedInterval = 10 * time.Second
)

// Config configures the timer's thresholds. Zero values are replaced with
// NewTimer's defaults.
type Config struct {
	FrameSwitchBudgetMs float64
	WarnThresholdMs     float64
	HardThresholdMs     float64
	RingSize            int
}

// DefaultConfig returns sensible defaults (50/45/50ms, 1000-entry ring).
func DefaultConfig() Config {
	return Config{FrameSwitchBudgetMs: 50, WarnThresholdMs: 45, HardThresholdMs: 50, RingSize: defaultRingSize}
}

type sample struct {
	hit     bool
	elapsed time.Duration
	at      time.Time
}

// AutomaticActions are invoked when three hard-threshold violations occur
// within a 10-second window. Both run on a detached goroutine started by
// the timer, off the foreground get path.
type AutomaticActions struct {
	// ForceCleanup releases unpinned evictable entries above the target
	// threshold (wired to governor/store in the facade).
	ForceCleanup func()
	// ShrinkPreloadWindow halves the scheduler's near/far window (wired to
	// the preload scheduler in the facade).
	ShrinkPreloadWindow func()
}

// Timer is the bounded ring buffer of (hit, elapsed) samples plus rolling
// statistics and alerting. Safe for concurrent use.
type Timer struct {
	mu      sync.Mutex
	cfg     Config
	bus     *events.Bus
	actions AutomaticActions

	ring  []sample
	head  int
	count int

	errorTimes []time.Time // recent hard-threshold violations, for the sustained-action rule
}

// NewTimer constructs a Timer publishing alerts on bus.
func NewTimer(cfg Config, bus *events.Bus, actions AutomaticActions) *Timer {
	d := DefaultConfig()
	if cfg.FrameSwitchBudgetMs <= 0 {
		cfg.FrameSwitchBudgetMs = d.FrameSwitchBudgetMs
	}
	if cfg.WarnThresholdMs <= 0 {
		cfg.WarnThresholdMs = d.WarnThresholdMs
	}
	if cfg.HardThresholdMs <= 0 {
		cfg.HardThresholdMs = d.HardThresholdMs
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = defaultRingSize
	}
	return &Timer{cfg: cfg, bus: bus, actions: actions, ring: make([]sample, cfg.RingSize)}
}

// Start begins a scoped measurement for one get() call. Call Stop(hit) on
// the returned handle when the call completes.
func (t *Timer) Start() Measurement {
	return Measurement{t: t, began: time.Now()}
}

// Measurement is a single in-flight latency measurement.
type Measurement struct {
	t     *Timer
	began time.Time
}

// Elapsed returns the time since Start, usable by the facade to compute a
// remaining-budget deadline for the loader.
func (m Measurement) Elapsed() time.Duration { return time.Since(m.began) }

// Stop records the call's outcome and elapsed time, and evaluates alerts.
func (m Measurement) Stop(hit bool) time.Duration {
	elapsed := time.Since(m.began)
	m.t.record(hit, elapsed)
	return elapsed
}

func (t *Timer) record(hit bool, elapsed time.Duration) {
	t.mu.Lock()
	t.ring[t.head] = sample{hit: hit, elapsed: elapsed, at: time.Now()}
	t.head = (t.head + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	hitRate, hitRateN := t.rollingHitRateLocked()
	t.mu.Unlock()

	ms := float64(elapsed) / float64(time.Millisecond)

	if ms > t.cfg.HardThresholdMs {
		t.publishWarning("get_latency_ms", ms, t.cfg.HardThresholdMs, events.Error)
		t.noteErrorAndMaybeAct()
	} else if ms > t.cfg.WarnThresholdMs {
		t.publishWarning("get_latency_ms", ms, t.cfg.WarnThresholdMs, events.Warning)
	}

	if hitRateN >= minHitRateWindow && hitRate < 0.95 {
		t.publishWarning("cache_hit_rate", hitRate, 0.95, events.Warning)
	}
}

func (t *Timer) publishWarning(metric string, value, threshold float64, sev events.Severity) {
	events.Publish(t.bus, events.PerformanceWarning{Metric: metric, Value: value, Threshold: threshold, Severity: sev})
}

// noteErrorAndMaybeAct tracks hard-threshold violations and fires the
// automatic corrective actions once three occur within 10 seconds.
// These actions must never block the foreground get path,
// so they run on a detached goroutine.
func (t *Timer) noteErrorAndMaybeAct() {
	now := time.Now()

	t.mu.Lock()
	t.errorTimes = append(t.errorTimes, now)
	cutoff := now.Add(-sustainedInterval)
	kept := t.errorTimes[:0]
	for _, ts := range t.errorTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.errorTimes = kept
	trigger := len(t.errorTimes) >= sustainedErrors
	if trigger {
		t.errorTimes = nil
	}
	t.mu.Unlock()

	if !trigger {
		return
	}

	go func() {
		if t.actions.ForceCleanup != nil {
			t.actions.ForceCleanup()
		}
		if t.actions.ShrinkPreloadWindow != nil {
			t.actions.ShrinkPreloadWindow()
		}
		t.publishWarning("sustained_latency_violation", float64(sustainedErrors), float64(sustainedErrors), events.Error)
	}()
}

// Stats is the rolling latency/hit-rate statistics exposed by stats().
type Stats struct {
	Count                    int
	Mean, P50, P95, P99, Max time.Duration
	RecentMean, RecentP50    time.Duration
	HitRate                  float64
}

// Snapshot computes rolling statistics over the full ring and the most
// recent recentWindow samples.
func (t *Timer) Snapshot() Stats {
	t.mu.Lock()
	samples := t.snapshotSamplesLocked()
	t.mu.Unlock()

	if len(samples) == 0 {
		return Stats{}
	}

	full := percentiles(samples)
	recentN := len(samples)
	if recentN > recentWindow {
		recentN = recentWindow
	}
	recent := percentiles(samples[len(samples)-recentN:])

	hits := 0
	for _, s := range samples {
		if s.hit {
			hits++
		}
	}

	return Stats{
		Count:      len(samples),
		Mean:       full.mean,
		P50:        full.p50,
		P95:        full.p95,
		P99:        full.p99,
		Max:        full.max,
		RecentMean: recent.mean,
		RecentP50:  recent.p50,
		HitRate:    float64(hits) / float64(len(samples)),
	}
}

// snapshotSamplesLocked returns samples in chronological order.
func (t *Timer) snapshotSamplesLocked() []sample {
	out := make([]sample, 0, t.count)
	if t.count < len(t.ring) {
		out = append(out, t.ring[:t.count]...)
		return out
	}
	out = append(out, t.ring[t.head:]...)
	out = append(out, t.ring[:t.head]...)
	return out
}

// rollingHitRateLocked computes the hit rate over the full ring (t.mu held).
func (t *Timer) rollingHitRateLocked() (rate float64, n int) {
	if t.count == 0 {
		return 0, 0
	}
	hits := 0
	for i := 0; i < t.count; i++ {
		if t.ring[i].hit {
			hits++
		}
	}
	return float64(hits) / float64(t.count), t.count
}

type pstats struct {
	mean, p50, p95, p99, max time.Duration
}

func percentiles(samples []sample) pstats {
	durs := make([]time.Duration, len(samples))
	var sum time.Duration
	for i, s := range samples {
		durs[i] = s.elapsed
		sum += s.elapsed
	}
	sort.Slice(durs, func(i, j int) bool { return durs[i] < durs[j] })

	at := func(p float64) time.Duration {
		idx := int(p * float64(len(durs)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(durs) {
			idx = len(durs) - 1
		}
		return durs[idx]
	}

	return pstats{
		mean: sum / time.Duration(len(durs)),
		p50:  at(0.50),
		p95:  at(0.95),
		p99:  at(0.99),
		max:  durs[len(durs)-1],
	}
}
