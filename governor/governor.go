// Package governor implements the Memory Governor: enforcement of the
// residency byte budget and the proactive background-pause path.
//
// Admission is tracked against three thresholds — soft, hard, and
// target-after-eviction — rather than a single capacity limit, so resident
// bytes can be reined in gradually before a hard stall forces synchronous
// eviction.
package governor

import (
	"sync/atomic"
	"time"

	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/internal/util"
)

const bytesPerGiB = 1 << 30

// Config holds the governor's budget parameters. All fields are read-only
// after construction.
type Config struct {
	HardLimitBytes           int64
	SoftLimitBytes           int64
	TargetAfterEvictionBytes int64

	// GraceMarginBytes is how far resident bytes may sit above
	// SoftLimitBytes before the proactive pause timer starts counting.
	GraceMarginBytes int64
	// GraceInterval is how long the soft limit must stay crossed (by more
	// than GraceMarginBytes) before preloading is asked to pause.
	GraceInterval time.Duration
}

// DefaultConfig returns sensible defaults: 20/18/17 GiB, 200ms grace.
func DefaultConfig() Config {
	return Config{
		HardLimitBytes:           20 * bytesPerGiB,
		SoftLimitBytes:           18 * bytesPerGiB,
		TargetAfterEvictionBytes: 17 * bytesPerGiB,
		GraceMarginBytes:         0,
		GraceInterval:            200 * time.Millisecond,
	}
}

// Governor tracks resident bytes and decides admission/eviction pressure.
// Safe for concurrent use.
type Governor struct {
	cfg Config
	bus *events.Bus

	// resident is padded to its own cache line: it is written on every Put
	// admission and read every 20ms by the proactive-pause watch, and sits
	// right next to softSince/paused in the struct — without padding a
	// write to one would bounce the cache line backing all three.
	resident  util.PaddedAtomicInt64
	paused    atomic.Bool
	softSince atomic.Int64 // UnixNano of when resident first crossed soft+margin; 0 = not crossed

	stop chan struct{}
	done chan struct{}
}

// New constructs a Governor and starts its background monitor (1-second
// memory_usage tick + proactive pause/resume watch).
func New(cfg Config, bus *events.Bus) *Governor {
	g := &Governor{cfg: cfg, bus: bus, stop: make(chan struct{}), done: make(chan struct{})}
	go g.monitorLoop()
	return g
}

// Close stops the background monitor. It is not idempotent: a second call
// panics on close(stop), same as any other close-twice bug — callers (the
// facade) close exactly once on Cache.Close.
func (g *Governor) Close() {
	close(g.stop)
	<-g.done
}

// ResidentBytes returns the current resident-bytes counter.
func (g *Governor) ResidentBytes() int64 { return g.resident.Load() }

// SetResidentBytes updates the resident-bytes counter and publishes a
// memory_usage event reflecting the new, post-admission state.
func (g *Governor) SetResidentBytes(n int64) {
	if n < 0 {
		n = 0
	}
	g.resident.Store(n)
	g.publishUsage()
}

func (g *Governor) publishUsage() {
	resident := g.resident.Load()
	ratio := 0.0
	if g.cfg.HardLimitBytes > 0 {
		ratio = float64(resident) / float64(g.cfg.HardLimitBytes)
	}
	events.Publish(g.bus, events.MemoryUsage{
		ResidentBytes: resident,
		HardLimit:     g.cfg.HardLimitBytes,
		UsageRatio:    ratio,
	})
}

// HardLimitBytes, SoftLimitBytes, TargetAfterEvictionBytes expose the
// read-only config to the store's admission loop.
func (g *Governor) HardLimitBytes() int64           { return g.cfg.HardLimitBytes }
func (g *Governor) SoftLimitBytes() int64           { return g.cfg.SoftLimitBytes }
func (g *Governor) TargetAfterEvictionBytes() int64 { return g.cfg.TargetAfterEvictionBytes }

// ReportRejection publishes an error-severity alert for a BudgetExhausted
// admission failure — this indicates a misconfiguration the operator
// should see, not a transient condition.
func (g *Governor) ReportRejection(resident, incoming int64) {
	events.Publish(g.bus, events.PerformanceWarning{
		Metric:    "budget_exhausted",
		Value:     float64(resident + incoming),
		Threshold: float64(g.cfg.HardLimitBytes),
		Severity:  events.Error,
	})
}

// monitorLoop drives the 1-second memory_usage tick and the proactive
// pause/resume watch.
func (g *Governor) monitorLoop() {
	defer close(g.done)

	usageTicker := time.NewTicker(time.Second)
	defer usageTicker.Stop()
	watchTicker := time.NewTicker(20 * time.Millisecond)
	defer watchTicker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-usageTicker.C:
			g.publishUsage()
		case <-watchTicker.C:
			g.checkProactivePause()
		}
	}
}

func (g *Governor) checkProactivePause() {
	resident := g.resident.Load()
	threshold := g.cfg.SoftLimitBytes + g.cfg.GraceMarginBytes

	if resident > threshold {
		since := g.softSince.Load()
		now := time.Now().UnixNano()
		if since == 0 {
			g.softSince.Store(now)
			return
		}
		if !g.paused.Load() && time.Duration(now-since) >= g.cfg.GraceInterval {
			g.paused.Store(true)
			events.Publish(g.bus, events.PreloadPaused{Reason: "soft_limit_sustained"})
		}
		return
	}

	// Back under the soft+margin threshold: reset the grace timer.
	g.softSince.Store(0)

	if g.paused.Load() && resident <= g.cfg.TargetAfterEvictionBytes {
		g.paused.Store(false)
		events.Publish(g.bus, events.PreloadResumed{})
	}
}

// Paused reports whether the governor currently has preloading paused.
func (g *Governor) Paused() bool { return g.paused.Load() }
