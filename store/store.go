// Package store implements the Ordered LRU Store: constant-time keyed
// access coupled with constant-time recency updates.
//
// The intrusive MRU/LRU list is built over an arena of nodes addressed by
// small integer handles rather than pointers, which avoids a heap
// allocation per node and lets a single mutex guard the whole hashmap+list
// pair. The store is fixed to one key type (frame.Key) and one value type
// (frame.Buffer), since this cache addresses only frames.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
	"github.com/annoframe/framecache/governor"
)

// EvictReason explains why an entry left the store.
type EvictReason int

const (
	// EvictPolicy — removed by the LRU policy to make room for an admission.
	EvictPolicy EvictReason = iota
	// EvictCapacity — removed to satisfy the max_entries safety cap.
	EvictCapacity
	// EvictManual — removed by an explicit Invalidate/Clear call.
	EvictManual
)

// PutResult reports the outcome of Put.
type PutResult int

const (
	Admitted PutResult = iota
	Rejected
)

// pathologicalWalkSteps is the number of pinned nodes evictLRUSkippingPinnedLocked
// may walk past before it is considered pathological: worst case O(n) only
// when nearly all entries are pinned, which must emit a warning rather than
// silently degrade.
const pathologicalWalkSteps = 32

// Entry is a read-only snapshot of a resident CacheEntry, safe to read
// without holding the store's lock.
type Entry struct {
	Key            frame.Key
	Buffer         frame.Buffer
	ByteSize       int64
	LastAccessTick uint64
	AccessCount    uint64
	Pinned         bool
	InsertedAt     time.Time
}

// Store is the Ordered LRU Store. All exported methods are safe for
// concurrent use.
type Store struct {
	mu    sync.Mutex
	arena []node // arena[0] is an unused sentinel; nilHandle == 0
	free  []handle
	index map[frame.Key]handle
	head  handle // MRU
	tail  handle // LRU
	size  int    // resident entry count

	maxEntries int
	bus        *events.Bus
	gov        *governor.Governor
	tick       uint64

	hits, misses, evicts atomic.Uint64
}

// New constructs an empty store bound to gov for budget decisions and bus
// for pathological-walk warnings.
func New(maxEntries int, gov *governor.Governor, bus *events.Bus) *Store {
	return &Store{
		arena:      make([]node, 1, 64), // slot 0 is the nil sentinel
		index:      make(map[frame.Key]handle),
		maxEntries: maxEntries,
		bus:        bus,
		gov:        gov,
	}
}

// GetAndPin looks up key, promotes it to MRU, and pins it so it cannot be
// evicted until the returned Borrow is released. It creates no arena node;
// each hit does allocate the Borrow's release flag.
func (s *Store) GetAndPin(key frame.Key) (Borrow, bool) {
	s.mu.Lock()
	h, ok := s.index[key]
	if !ok {
		s.misses.Add(1)
		s.mu.Unlock()
		return Borrow{}, false
	}

	s.moveToFrontLocked(h)
	n := &s.arena[h]
	s.tick++
	n.lastAccessTick = s.tick
	n.accessCount++
	atomic.AddInt32(&n.pinCount, 1)
	s.hits.Add(1)
	entry := s.snapshotLocked(h)
	s.mu.Unlock()

	return newBorrow(s, h, entry), true
}

// Peek looks up key without promoting or pinning it. Diagnostic use only
// (e.g. the scheduler checking residency before enqueueing a prefetch).
func (s *Store) Peek(key frame.Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.index[key]
	if !ok {
		return Entry{}, false
	}
	return s.snapshotLocked(h), true
}

// Put inserts or updates key→buf, evicting LRU (skipping pinned) entries
// under governor guidance until the admission fits. An already-resident
// key is refreshed (moved to MRU) and its buffer replaced only if the new
// size is >= the old one — a defensive edge policy against a loader
// returning a truncated replacement for a key already in cache.
func (s *Store) Put(key frame.Key, buf frame.Buffer) PutResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.index[key]; ok {
		n := &s.arena[h]
		if buf.Size >= n.byteSize {
			delta := buf.Size - n.byteSize
			n.buffer = buf
			n.byteSize = buf.Size
			s.gov.SetResidentBytes(s.gov.ResidentBytes() + delta)
		}
		s.moveToFrontLocked(h)
		return Admitted
	}

	incoming := buf.Size
	resident := s.gov.ResidentBytes()

	if resident+incoming > s.gov.SoftLimitBytes() || s.size >= s.maxEntries {
		for resident+incoming > s.gov.TargetAfterEvictionBytes() || s.size >= s.maxEntries {
			h, ok := s.evictLRUSkippingPinnedLocked()
			if !ok {
				break
			}
			freed := s.arena[h].byteSize
			s.evictNodeLocked(h, EvictPolicy)
			resident -= freed
		}
	}

	if resident+incoming > s.gov.HardLimitBytes() {
		// The eviction loop above may have freed bytes even though the
		// incoming buffer still doesn't fit (e.g. most of the store is
		// pinned). Flush the freed bytes back to the governor before
		// rejecting, or its counter stays inflated relative to what the
		// store actually holds.
		s.gov.SetResidentBytes(resident)
		s.gov.ReportRejection(resident, incoming)
		return Rejected
	}

	h := s.allocLocked()
	n := &s.arena[h]
	n.key = key
	n.buffer = buf
	n.byteSize = incoming
	n.insertedAt = time.Now()
	n.inUse = true
	s.index[key] = h
	s.insertFrontLocked(h)

	resident += incoming
	s.gov.SetResidentBytes(resident)
	return Admitted
}

// Invalidate removes key if unpinned; a pinned entry is marked for
// deferred eviction on its final Release.
func (s *Store) Invalidate(key frame.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.index[key]
	if !ok {
		return
	}
	s.invalidateLocked(h)
}

// Clear removes every unpinned entry; pinned entries are marked for
// deferred eviction on their final Release.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Walk from tail so removals don't disturb the not-yet-visited prefix.
	cur := s.tail
	for cur != nilHandle {
		prev := s.arena[cur].prev
		s.invalidateLocked(cur)
		cur = prev
	}
}

func (s *Store) invalidateLocked(h handle) {
	n := &s.arena[h]
	if atomic.LoadInt32(&n.pinCount) > 0 {
		n.deferredEvict = true
		return
	}
	freed := n.byteSize
	s.evictNodeLocked(h, EvictManual)
	s.gov.SetResidentBytes(s.gov.ResidentBytes() - freed)
}

// Len returns the number of resident entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Stats is a point-in-time snapshot of store-level counters.
type Stats struct {
	Hits, Misses, Evictions uint64
	EntryCount              int
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	n := s.size
	s.mu.Unlock()
	return Stats{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Evictions:  s.evicts.Load(),
		EntryCount: n,
	}
}

// IterFromLRU calls fn for each resident entry, from least- to
// most-recently-used. Diagnostic use only (tests, stats dumps).
func (s *Store) IterFromLRU(fn func(Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cur := s.tail; cur != nilHandle; cur = s.arena[cur].prev {
		fn(s.snapshotLocked(cur))
	}
}

// --------------------------- internals (mu held) ---------------------------

func (s *Store) snapshotLocked(h handle) Entry {
	n := &s.arena[h]
	return Entry{
		Key:            n.key,
		Buffer:         n.buffer,
		ByteSize:       n.byteSize,
		LastAccessTick: n.lastAccessTick,
		AccessCount:    n.accessCount,
		Pinned:         atomic.LoadInt32(&n.pinCount) > 0,
		InsertedAt:     n.insertedAt,
	}
}

func (s *Store) allocLocked() handle {
	if n := len(s.free); n > 0 {
		h := s.free[n-1]
		s.free = s.free[:n-1]
		return h
	}
	s.arena = append(s.arena, node{})
	return handle(len(s.arena) - 1)
}

func (s *Store) freeLocked(h handle) {
	s.arena[h] = node{}
	s.free = append(s.free, h)
}

func (s *Store) insertFrontLocked(h handle) {
	n := &s.arena[h]
	n.prev = nilHandle
	n.next = s.head
	if s.head != nilHandle {
		s.arena[s.head].prev = h
	}
	s.head = h
	if s.tail == nilHandle {
		s.tail = h
	}
	s.size++
}

func (s *Store) moveToFrontLocked(h handle) {
	if h == s.head {
		return
	}
	n := &s.arena[h]
	if n.prev != nilHandle {
		s.arena[n.prev].next = n.next
	}
	if n.next != nilHandle {
		s.arena[n.next].prev = n.prev
	} else {
		// h was the tail.
		s.tail = n.prev
	}
	n.prev = nilHandle
	n.next = s.head
	if s.head != nilHandle {
		s.arena[s.head].prev = h
	}
	s.head = h
	if s.tail == nilHandle {
		s.tail = h
	}
}

func (s *Store) detachLocked(h handle) {
	n := &s.arena[h]
	if n.prev != nilHandle {
		s.arena[n.prev].next = n.next
	}
	if n.next != nilHandle {
		s.arena[n.next].prev = n.prev
	}
	if s.head == h {
		s.head = n.next
	}
	if s.tail == h {
		s.tail = n.prev
	}
	n.prev, n.next = nilHandle, nilHandle
	s.size--
}

// evictLRUSkippingPinnedLocked walks from the tail toward the head
// returning the first unpinned node. O(1) in the common case; the walk is
// bounded in practice by how many consecutive LRU entries are pinned.
func (s *Store) evictLRUSkippingPinnedLocked() (handle, bool) {
	steps := 0
	for cur := s.tail; cur != nilHandle; cur = s.arena[cur].prev {
		if atomic.LoadInt32(&s.arena[cur].pinCount) == 0 {
			if steps >= pathologicalWalkSteps {
				events.Publish(s.bus, events.PerformanceWarning{
					Metric:    "lru_eviction_walk_length",
					Value:     float64(steps),
					Threshold: float64(pathologicalWalkSteps),
					Severity:  events.Warning,
				})
			}
			return cur, true
		}
		steps++
	}
	if steps > 0 {
		events.Publish(s.bus, events.PerformanceWarning{
			Metric:    "lru_eviction_all_pinned",
			Value:     float64(steps),
			Threshold: float64(pathologicalWalkSteps),
			Severity:  events.Warning,
		})
	}
	return nilHandle, false
}

// evictNodeLocked detaches h, removes it from the index, frees its slot,
// and records the eviction. It does not touch the governor's resident
// counter — callers own that since some paths (Put's admission loop) batch
// several evictions before reporting once.
func (s *Store) evictNodeLocked(h handle, reason EvictReason) {
	n := &s.arena[h]
	if !n.inUse {
		return // already evicted via a racing path (e.g. deferred release)
	}
	key := n.key
	s.detachLocked(h)
	delete(s.index, key)
	s.freeLocked(h)
	s.evicts.Add(1)
	_ = reason // reserved for a future per-reason eviction breakdown
}

// ForceEvictAboveTarget evicts unpinned LRU entries until resident bytes
// fall to the governor's target-after-eviction threshold (or no more
// unpinned entries remain). Used by perf's sustained-violation automatic
// cleanup path.
func (s *Store) ForceEvictAboveTarget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.gov.ResidentBytes() > s.gov.TargetAfterEvictionBytes() {
		h, ok := s.evictLRUSkippingPinnedLocked()
		if !ok {
			break
		}
		freed := s.arena[h].byteSize
		s.evictNodeLocked(h, EvictCapacity)
		s.gov.SetResidentBytes(s.gov.ResidentBytes() - freed)
	}
}

// releasePin drops one pin on h. If the pin count reaches zero and the
// node was marked for deferred eviction (Invalidate/Clear while pinned),
// it is evicted now. The atomic decrement itself never takes s.mu; the
// lock is only acquired on the zero-crossing path that might need to
// finalize a deferred eviction.
func (s *Store) releasePin(h handle) {
	n := &s.arena[h]
	if atomic.AddInt32(&n.pinCount, -1) > 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !n.inUse || !n.deferredEvict {
		return
	}
	freed := n.byteSize
	s.evictNodeLocked(h, EvictManual)
	s.gov.SetResidentBytes(s.gov.ResidentBytes() - freed)
}
