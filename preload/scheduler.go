// Package preload implements the Preload Scheduler: a bounded worker pool
// that keeps a sliding window of neighboring frames resident around the
// cursor, without ever impacting foreground get latency.
//
// Concurrency is bounded with golang.org/x/sync/semaphore rather than a
// literal fixed pool of blocked goroutines, so the dispatcher can always
// re-evaluate priority order the instant a slot frees up; shutdown fans
// out through golang.org/x/sync/errgroup.
package preload

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
)

// Config configures the scheduler.
type Config struct {
	WorkerCount        int
	PreloadBack        int
	PreloadForward     int
	PrefetchDeadlineMs int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{WorkerCount: 4, PreloadBack: 25, PreloadForward: 75, PrefetchDeadlineMs: 500}
}

// Target is the subset of the Cache Facade the scheduler needs: residency
// checks and a way to perform a background load-and-admit that shares the
// facade's single-flight dedup with foreground misses.
type Target interface {
	Resident(key frame.Key) bool
	InFlight(key frame.Key) bool
	EnsureLoaded(ctx context.Context, key frame.Key, deadline time.Time) error
}

// Scheduler owns the work queue and worker pool. Its mutex is independent
// of the store's lock, to avoid priority inversion between foreground gets
// and background scheduling.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues [3][]*Task // indexed by Priority
	byKey  map[frame.Key]*Task

	lastWindowBack, lastWindowForward int

	cfg    Config
	target Target
	bus    *events.Bus
	sem    *semaphore.Weighted

	paused bool

	stopped bool
	stopCh  chan struct{}
	wg      errgroup.Group
}

// New constructs a Scheduler bound to target for residency checks and
// background loads, and subscribes to the governor's pause/resume events
// on bus for backpressure.
func New(cfg Config, target Target, bus *events.Bus) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	s := &Scheduler{
		byKey:          make(map[frame.Key]*Task),
		cfg:            cfg,
		target:         target,
		bus:            bus,
		sem:            semaphore.NewWeighted(int64(cfg.WorkerCount)),
		lastWindowBack: cfg.PreloadBack, lastWindowForward: cfg.PreloadForward,
		stopCh: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	events.Subscribe(bus, func(events.PreloadPaused) { s.setPaused(true) })
	events.Subscribe(bus, func(events.PreloadResumed) { s.setPaused(false) })

	s.wg.Go(func() error { s.dispatchLoop(); return nil })
	return s
}

// Close stops the dispatcher and waits for in-flight workers to drain.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	close(s.stopCh)
	s.cond.Broadcast()
	_ = s.wg.Wait()
}

func (s *Scheduler) setPaused(p bool) {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = p
	s.mu.Unlock()

	if p && !wasPaused {
		s.cancelBackpressureLocked()
	}
	s.cond.Broadcast()
}

// cancelBackpressureLocked cancels low-priority tasks entirely and the
// later half of the normal-priority queue by queue position. The normal
// queue is filled in map iteration order, so that half is not chosen by
// distance from the cursor. It acquires the lock itself and publishes
// PreloadPaused after releasing it, since setPaused (a PreloadPaused
// subscriber) takes the same lock.
func (s *Scheduler) cancelBackpressureLocked() {
	s.mu.Lock()
	for _, t := range s.queues[Low] {
		t.Cancel()
	}
	s.queues[Low] = nil

	half := len(s.queues[Normal]) / 2
	for i := half; i < len(s.queues[Normal]); i++ {
		s.queues[Normal][i].Cancel()
	}
	s.mu.Unlock()

	events.Publish(s.bus, events.PreloadPaused{Reason: "memory_governor_backpressure"})
}

// Recompute reacts to a frame_changed hint: it computes
// [cursor-back, cursor+forward] (direction- and predictor-biased), enqueues
// new in-window keys, and cancels queued tasks
// that fell out of the window.
func (s *Scheduler) Recompute(current frame.Key, rng frame.Range, dir events.Direction) {
	back, forward := s.windowFor(dir)

	lo := rng.Neighbor(current, -back)
	hi := rng.Neighbor(current, forward)

	want := make(map[frame.Key]Priority, int(hi-lo)+1)
	nearBack := back / 3
	if nearBack < 1 {
		nearBack = 1
	}
	nearForward := forward / 3
	if nearForward < 1 {
		nearForward = 1
	}

	for k := lo; k <= hi; k++ {
		if k == current {
			continue
		}
		want[k] = classify(k, current, nearBack, nearForward)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancel anything queued that is no longer wanted.
	for k, t := range s.byKey {
		if _, ok := want[k]; !ok {
			t.Cancel()
			delete(s.byKey, k)
		}
	}

	deadline := time.Now().Add(time.Duration(s.cfg.PrefetchDeadlineMs) * time.Millisecond)
	for k, pr := range want {
		if _, queued := s.byKey[k]; queued {
			continue
		}
		if s.target.Resident(k) || s.target.InFlight(k) {
			continue
		}
		t := &Task{Key: k, Direction: dir, Priority: pr, Deadline: deadline}
		s.byKey[k] = t
		s.queues[pr] = append(s.queues[pr], t)
	}
	s.cond.Broadcast()
}

func classify(k, current frame.Key, nearBack, nearForward int) Priority {
	d := int64(k) - int64(current)
	if d == 1 || d == -1 {
		return High
	}
	if d > 0 && d <= int64(nearForward) {
		return Normal
	}
	if d < 0 && -d <= int64(nearBack) {
		return Normal
	}
	return Low
}

// windowFor returns the back/forward extents for the current direction:
// default back/forward when moving forward, mirrored when moving backward,
// symmetric 50/50 when stationary.
func (s *Scheduler) windowFor(dir events.Direction) (back, forward int) {
	s.mu.Lock()
	b, f := s.lastWindowBack, s.lastWindowForward
	s.mu.Unlock()

	switch dir {
	case events.Backward:
		return f, b
	case events.Stationary:
		sym := (b + f) / 2
		return sym, sym
	default: // Forward, Random, Unknown
		return b, f
	}
}

// ShrinkWindow halves the configured window. Invoked as an automatic
// corrective action on sustained latency violation.
func (s *Scheduler) ShrinkWindow() {
	s.mu.Lock()
	if s.lastWindowBack > 1 {
		s.lastWindowBack /= 2
	}
	if s.lastWindowForward > 1 {
		s.lastWindowForward /= 2
	}
	s.mu.Unlock()
}

// dequeueLocked pops the next task in priority order. Returns nil if
// empty; caller must hold s.mu.
func (s *Scheduler) dequeueLocked() *Task {
	for pr := High; pr <= Low; pr++ {
		q := s.queues[pr]
		if len(q) > 0 {
			t := q[0]
			s.queues[pr] = q[1:]
			delete(s.byKey, t.Key)
			return t
		}
	}
	return nil
}

func (s *Scheduler) dispatchLoop() {
	for {
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			return
		}

		s.mu.Lock()
		for !s.stopped {
			if s.paused {
				// Only High is dispatched while paused; Low and half of
				// Normal were cancelled in cancelBackpressureLocked, and the
				// remaining Normal/Low tasks (and any enqueued since) wait
				// for resume.
				if len(s.queues[High]) > 0 {
					break
				}
			} else if s.queueLenLocked() > 0 {
				break
			}
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			s.sem.Release(1)
			return
		}
		t := s.dequeueLocked()
		s.mu.Unlock()

		if t == nil {
			s.sem.Release(1)
			continue
		}

		s.wg.Go(func() error {
			defer s.sem.Release(1)
			s.runTask(t)
			return nil
		})
	}
}

func (s *Scheduler) queueLenLocked() int {
	return len(s.queues[High]) + len(s.queues[Normal]) + len(s.queues[Low])
}

func (s *Scheduler) runTask(t *Task) {
	if t.Cancelled() || t.Expired() {
		return
	}
	ctx, cancel := context.WithDeadline(context.Background(), t.Deadline)
	defer cancel()

	err := s.target.EnsureLoaded(ctx, t.Key, t.Deadline)

	if t.Cancelled() {
		return // withdrawn: no warning; EnsureLoaded has already admitted any loaded buffer
	}
	if err != nil {
		events.Publish(s.bus, events.PerformanceWarning{
			Metric: "preload_failed", Value: 1, Threshold: 0, Severity: events.Info,
		})
	}
}
