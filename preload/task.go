package preload

import (
	"sync/atomic"
	"time"

	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
)

// Priority orders the scheduler's three work queues. Workers drain High
// before Normal before Low; within a priority, FIFO.
type Priority int

const (
	High Priority = iota
	Normal
	Low
)

// Task is one key the scheduler wants resident, with a priority, a soft
// deadline, and a cooperative cancel flag checked before and after the
// loader call.
type Task struct {
	Key       frame.Key
	Direction events.Direction
	Priority  Priority
	Deadline  time.Time

	cancelled atomic.Bool
}

// Cancel marks the task cancelled. A worker checks the flag before calling
// the loader and again after EnsureLoaded returns; a buffer loaded by then
// has already been admitted, so a cancel during the load does not keep it
// out of the cache.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Expired reports whether the task's soft deadline has passed.
func (t *Task) Expired() bool { return !t.Deadline.IsZero() && time.Now().After(t.Deadline) }
