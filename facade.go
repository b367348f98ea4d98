// Package framecache is the frame cache and preload engine for a 4K-video
// bounding-box annotation tool: an in-memory, byte-budgeted LRU store for
// decoded frame buffers, backed by a background scheduler that keeps a
// sliding window of neighboring frames resident ahead of the cursor.
//
// Cache is the single entry point; it wires the Ordered LRU Store, the
// Memory Governor, the Preload Scheduler, the Access Predictor, and the
// Performance Timer together over a shared event bus, and coalesces
// concurrent loads for the same key with one singleflight group shared by
// foreground misses and background prefetches.
package framecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
	"github.com/annoframe/framecache/governor"
	"github.com/annoframe/framecache/internal/singleflight"
	"github.com/annoframe/framecache/loader"
	"github.com/annoframe/framecache/perf"
	"github.com/annoframe/framecache/predictor"
	"github.com/annoframe/framecache/preload"
	"github.com/annoframe/framecache/store"
)

// Cache is the single entry point into the frame cache and preload engine.
// All methods are safe for concurrent use by multiple goroutines.
type Cache struct {
	cfg    Config
	bus    *events.Bus
	ld     loader.Loader
	store  *store.Store
	gov    *governor.Governor
	timer  *perf.Timer
	sched  *preload.Scheduler
	sf     singleflight.Group[frame.Key, frame.Buffer]

	// hits/misses count Get calls, one per call; the store's own counters
	// also see the pin Get takes after a load.
	hits, misses atomic.Uint64

	predMu sync.Mutex
	pred   *predictor.Predictor

	rngMu sync.RWMutex
	rng   frame.Range
}

var _ preload.Target = (*Cache)(nil)

// New constructs a Cache. If bus is nil, a private Bus is allocated;
// callers that want to observe events (e.g. a metrics adapter) should pass
// their own Bus and subscribe to it before or after calling New.
func New(cfg Config, bus *events.Bus, ld loader.Loader) *Cache {
	cfg = cfg.withDefaults()
	if bus == nil {
		bus = events.NewBus()
	}

	c := &Cache{
		cfg:  cfg,
		bus:  bus,
		ld:   ld,
		pred: predictor.New(cfg.PredictorWindow),
	}

	c.gov = governor.New(cfg.governorConfig(), bus)
	c.store = store.New(cfg.MaxEntries, c.gov, bus)
	c.timer = perf.NewTimer(cfg.perfConfig(), bus, perf.AutomaticActions{
		ForceCleanup:        c.store.ForceEvictAboveTarget,
		ShrinkPreloadWindow: func() { c.sched.ShrinkWindow() },
	})
	// c implements preload.Target entirely through fields already set
	// above (store, sf); sched is assigned after New so the scheduler's
	// own goroutine never observes a nil Target.
	c.sched = preload.New(cfg.preloadConfig(), c, bus)

	events.Subscribe(bus, func(e events.FrameChanged) { c.onFrameChanged(e) })
	events.Subscribe(bus, func(e events.ProjectOpened) { c.onProjectOpened(e) })

	return c
}

// Close stops the background scheduler and the governor's monitor loop.
func (c *Cache) Close() {
	c.sched.Close()
	c.gov.Close()
}

// Get resolves key to a pinned Borrow, loading it through the configured
// Loader on a miss. The caller must call Release on the returned Borrow
// exactly once.
func (c *Cache) Get(ctx context.Context, key frame.Key) (store.Borrow, error) {
	if !c.currentRange().Contains(key) {
		return store.Borrow{}, ErrInvalidKey
	}

	m := c.timer.Start()
	c.recordAccess(key)

	if b, ok := c.store.GetAndPin(key); ok {
		c.hits.Add(1)
		elapsed := m.Stop(true)
		events.Publish(c.bus, events.CacheHit{Key: key, ElapsedMs: msf(elapsed)})
		return b, nil
	}
	c.misses.Add(1)

	budget := time.Duration(c.cfg.FrameSwitchBudgetMs * float64(time.Millisecond))
	remaining := budget - m.Elapsed()
	if remaining <= 0 {
		m.Stop(false)
		events.Publish(c.bus, events.CacheMiss{Key: key, LoadElapsedMs: 0})
		events.Publish(c.bus, events.PerformanceWarning{
			Metric: "frame_switch_budget_ms", Value: msf(m.Elapsed()), Threshold: c.cfg.FrameSwitchBudgetMs, Severity: events.Error,
		})
		return store.Borrow{}, ErrNotFound
	}

	loadCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	loadStart := time.Now()
	_, err := c.loadAndAdmit(loadCtx, key)
	loadElapsed := time.Since(loadStart)
	events.Publish(c.bus, events.CacheMiss{Key: key, LoadElapsedMs: msf(loadElapsed)})

	if err != nil {
		m.Stop(false)
		return store.Borrow{}, ErrNotFound
	}

	b, ok := c.store.GetAndPin(key)
	if !ok {
		// Admitted then evicted/invalidated before we could pin it — a
		// legitimate race under memory pressure, not a bug.
		m.Stop(false)
		return store.Borrow{}, ErrNotFound
	}
	m.Stop(false)
	return b, nil
}

// loadAndAdmit invokes the Loader and admits the result into the store,
// coalescing concurrent calls for the same key via the shared singleflight
// group, the same one consulted by the preload scheduler's background
// loads.
func (c *Cache) loadAndAdmit(ctx context.Context, key frame.Key) (frame.Buffer, error) {
	return c.sf.Do(ctx, key, func() (frame.Buffer, error) {
		buf, err := c.ld.Load(ctx, key)
		if err != nil {
			return frame.Buffer{}, err
		}
		if res := c.store.Put(key, buf); res == store.Rejected {
			return frame.Buffer{}, ErrBudgetExhausted
		}
		return buf, nil
	})
}

// Invalidate drops key from the cache, deferring the actual removal if it
// is currently pinned.
func (c *Cache) Invalidate(key frame.Key) { c.store.Invalidate(key) }

// Clear drops every unpinned entry; pinned entries are removed when their
// last Borrow is released.
func (c *Cache) Clear() { c.store.Clear() }

// Stats snapshots store, governor, and timer counters for diagnostics.
func (c *Cache) Stats() Stats {
	ss := c.store.Stats()
	ts := c.timer.Snapshot()
	return Stats{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Evictions:      ss.Evictions,
		EntryCount:     ss.EntryCount,
		ResidentBytes:  c.gov.ResidentBytes(),
		HardLimitBytes: c.gov.HardLimitBytes(),
		PreloadPaused:  c.gov.Paused(),
		Latency:        ts,
	}
}

// Stats is a point-in-time snapshot across all components.
type Stats struct {
	Hits, Misses, Evictions uint64
	EntryCount              int
	ResidentBytes           int64
	HardLimitBytes          int64
	PreloadPaused           bool
	Latency                 perf.Stats
}

func (c *Cache) onProjectOpened(e events.ProjectOpened) {
	c.store.Clear()
	c.rngMu.Lock()
	c.rng = e.FrameRange
	c.rngMu.Unlock()
}

func (c *Cache) onFrameChanged(e events.FrameChanged) {
	c.predMu.Lock()
	c.pred.Record(e.CurrentKey)
	hint := c.pred.Predict()
	c.predMu.Unlock()

	dir := e.DirectionHint
	if dir == events.DirectionUnknown {
		dir = hint.Direction
	}
	c.sched.Recompute(e.CurrentKey, c.currentRange(), dir)
}

func (c *Cache) recordAccess(key frame.Key) {
	c.predMu.Lock()
	c.pred.Record(key)
	c.predMu.Unlock()
}

func (c *Cache) currentRange() frame.Range {
	c.rngMu.RLock()
	defer c.rngMu.RUnlock()
	return c.rng
}

func msf(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// --- preload.Target implementation ---

// Resident implements preload.Target.
func (c *Cache) Resident(key frame.Key) bool {
	_, ok := c.store.Peek(key)
	return ok
}

// InFlight implements preload.Target.
func (c *Cache) InFlight(key frame.Key) bool { return c.sf.Contains(key) }

// EnsureLoaded implements preload.Target: a background load-and-admit that
// shares the same singleflight group (and therefore the same in-flight
// bookkeeping) as foreground misses.
func (c *Cache) EnsureLoaded(ctx context.Context, key frame.Key, deadline time.Time) error {
	if c.Resident(key) {
		return nil
	}
	_, err := c.loadAndAdmit(ctx, key)
	return err
}
