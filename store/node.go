package store

import (
	"time"

	"github.com/annoframe/framecache/frame"
)

// handle is an index into the store's node arena. The zero value (0) is
// reserved to mean "no node" so the arena's slot 0 is never allocated.
type handle int32

const nilHandle handle = 0

// node is an intrusive doubly-linked-list element, addressed by a small
// integer handle instead of a pointer, with the hash map storing handles
// rather than node pointers. This keeps the arena a single contiguous slice
// and avoids per-node heap allocation churn under steady-state sweep/evict
// traffic.
type node struct {
	key    frame.Key
	buffer frame.Buffer

	prev, next handle

	byteSize       int64
	lastAccessTick uint64
	accessCount    uint64
	pinCount       int32
	insertedAt     time.Time

	// deferredEvict is set by Invalidate/Clear when the node is pinned at
	// the time of the call; releasePin finalizes the eviction once the
	// last borrow drops.
	deferredEvict bool

	// inUse is false for a free-list slot awaiting reuse.
	inUse bool
}
