package store

import (
	"sync"
	"testing"
	"time"

	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
	"github.com/annoframe/framecache/governor"
)

func newTestStore(t *testing.T, maxEntries int, hard, soft, target int64) (*Store, *governor.Governor, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	gov := governor.New(governor.Config{
		HardLimitBytes: hard, SoftLimitBytes: soft, TargetAfterEvictionBytes: target,
		GraceInterval: time.Hour, // keep the background pause path quiet during these tests
	}, bus)
	t.Cleanup(gov.Close)
	return New(maxEntries, gov, bus), gov, bus
}

func buf(n int64) frame.Buffer {
	return frame.Buffer{Bytes: make([]byte, 0), Width: 1, Height: 1, Channels: frame.Gray, Size: n}
}

func TestStore_PutThenGetAndPinHits(t *testing.T) {
	s, _, _ := newTestStore(t, 10, 1000, 900, 800)

	if res := s.Put(1, buf(100)); res != Admitted {
		t.Fatalf("Put = %v, want Admitted", res)
	}
	b, ok := s.GetAndPin(1)
	if !ok {
		t.Fatal("expected hit")
	}
	defer b.Release()
	if b.Buffer.Size != 100 {
		t.Fatalf("Buffer.Size = %d, want 100", b.Buffer.Size)
	}

	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestStore_GetAndPinMissCounted(t *testing.T) {
	s, _, _ := newTestStore(t, 10, 1000, 900, 800)
	if _, ok := s.GetAndPin(99); ok {
		t.Fatal("expected miss")
	}
	if s.Stats().Misses != 1 {
		t.Fatalf("Misses = %d, want 1", s.Stats().Misses)
	}
}

func TestStore_PutExistingKeyUpsertsAndRefreshesRecency(t *testing.T) {
	s, gov, _ := newTestStore(t, 10, 1000, 300, 360)
	s.Put(1, buf(100))
	s.Put(2, buf(100))

	// Upserting 1 both grows it and moves it back to MRU, so 2 (never
	// touched again) becomes the sole LRU candidate.
	if res := s.Put(1, buf(150)); res != Admitted {
		t.Fatalf("Put upsert = %v", res)
	}
	if gov.ResidentBytes() != 250 {
		t.Fatalf("resident = %d, want 250", gov.ResidentBytes())
	}

	e, ok := s.Peek(1)
	if !ok || e.Buffer.Size != 150 {
		t.Fatalf("Peek(1) = %+v, ok=%v", e, ok)
	}

	// Admitting a modestly-sized key 3 only needs to evict one entry to
	// fall back under the target; it must be 2, the LRU one.
	s.Put(3, buf(200))
	if _, ok := s.Peek(2); ok {
		t.Fatal("expected key 2 to have been evicted as LRU")
	}
	if _, ok := s.Peek(1); !ok {
		t.Fatal("expected key 1 (more recently used) to survive")
	}
	if _, ok := s.Peek(3); !ok {
		t.Fatal("expected key 3 to be resident")
	}
}

func TestStore_PutRejectsWhenOverHardLimit(t *testing.T) {
	s, _, bus := newTestStore(t, 10, 100, 90, 80)
	var warned bool
	events.Subscribe(bus, func(events.PerformanceWarning) { warned = true })

	if res := s.Put(1, buf(500)); res != Rejected {
		t.Fatalf("Put = %v, want Rejected", res)
	}
	if !warned {
		t.Fatal("expected a PerformanceWarning on rejection")
	}
	if _, ok := s.Peek(1); ok {
		t.Fatal("rejected key must not be resident")
	}
}

func TestStore_RejectFlushesBytesFreedByPartialEviction(t *testing.T) {
	// hard=100: key 1 (size 50) stays pinned, key 2 (size 30) is unpinned.
	// Admitting a 70-byte buffer evicts key 2 to try to make room, but
	// 50 (still pinned) + 70 (incoming) = 120 still exceeds the hard limit,
	// so the admission is rejected. The governor's resident-bytes counter
	// must reflect only the 50 bytes actually left resident, not the 80
	// bytes that were resident before the evict-then-reject attempt.
	s, gov, _ := newTestStore(t, 10, 100, 90, 80)

	s.Put(1, buf(50))
	b1, ok := s.GetAndPin(1)
	if !ok {
		t.Fatal("expected key 1 to be resident and pinnable")
	}
	defer b1.Release()

	s.Put(2, buf(30))
	if gov.ResidentBytes() != 80 {
		t.Fatalf("resident bytes = %d, want 80 before the rejected Put", gov.ResidentBytes())
	}

	if res := s.Put(3, buf(70)); res != Rejected {
		t.Fatalf("Put = %v, want Rejected", res)
	}
	if _, ok := s.Peek(2); ok {
		t.Fatal("expected key 2 to have been evicted while making room")
	}
	if _, ok := s.Peek(1); !ok {
		t.Fatal("expected pinned key 1 to survive")
	}
	if gov.ResidentBytes() != 50 {
		t.Fatalf("resident bytes = %d, want 50 (only key 1) after the rejected Put flushed freed bytes", gov.ResidentBytes())
	}
}

func TestStore_EvictsLRUSkippingPinned(t *testing.T) {
	s, _, _ := newTestStore(t, 10, 300, 250, 150)

	s.Put(1, buf(100))
	b1, _ := s.GetAndPin(1) // pin key 1 so it cannot be evicted
	defer b1.Release()

	s.Put(2, buf(100))
	s.Put(3, buf(100)) // crosses soft (250) and evicts toward target (150); pinned key 1 stops it at 200

	if _, ok := s.Peek(1); !ok {
		t.Fatal("pinned key 1 must survive eviction pressure")
	}
	if _, ok := s.Peek(2); ok {
		t.Fatal("unpinned LRU key 2 should have been evicted")
	}
	if _, ok := s.Peek(3); !ok {
		t.Fatal("newly admitted key 3 must be resident")
	}
}

func TestStore_InvalidatePinnedIsDeferred(t *testing.T) {
	s, gov, _ := newTestStore(t, 10, 1000, 900, 800)
	s.Put(1, buf(100))
	b, _ := s.GetAndPin(1)

	s.Invalidate(1)
	if _, ok := s.Peek(1); !ok {
		t.Fatal("pinned entry must still be resident immediately after Invalidate")
	}

	b.Release() // should finalize the deferred eviction
	if _, ok := s.Peek(1); ok {
		t.Fatal("entry must be gone after releasing a deferred-evict pin")
	}
	if gov.ResidentBytes() != 0 {
		t.Fatalf("resident bytes = %d, want 0", gov.ResidentBytes())
	}
}

func TestStore_InvalidateUnpinnedIsImmediate(t *testing.T) {
	s, gov, _ := newTestStore(t, 10, 1000, 900, 800)
	s.Put(1, buf(100))
	s.Invalidate(1)
	if _, ok := s.Peek(1); ok {
		t.Fatal("entry must be gone immediately")
	}
	if gov.ResidentBytes() != 0 {
		t.Fatalf("resident bytes = %d, want 0", gov.ResidentBytes())
	}
}

func TestStore_ClearRemovesEverythingUnpinned(t *testing.T) {
	s, _, _ := newTestStore(t, 10, 1000, 900, 800)
	for k := frame.Key(0); k < 5; k++ {
		s.Put(k, buf(10))
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestStore_DoubleReleasePanicsInDebugMode(t *testing.T) {
	DebugDoubleRelease = true
	defer func() { DebugDoubleRelease = false }()

	s, _, _ := newTestStore(t, 10, 1000, 900, 800)
	s.Put(1, buf(10))
	b, _ := s.GetAndPin(1)
	b.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	b.Release()
}

// Concurrent GetAndPin/Put/Release/Peek on a small keyspace must not race;
// the check is the race detector (go test -race), the test itself asserts
// no values.
func TestStore_ConcurrentMixedWorkload(t *testing.T) {
	s, _, _ := newTestStore(t, 64, 1<<20, 1<<19, 1<<18)
	for k := frame.Key(0); k < 32; k++ {
		s.Put(k, buf(64))
	}

	var wg sync.WaitGroup
	workers := 16
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := frame.Key((id + i) % 32)
				switch i % 3 {
				case 0:
					s.Put(k, buf(64))
				case 1:
					if b, ok := s.GetAndPin(k); ok {
						b.Release()
					}
				default:
					s.Peek(k)
				}
			}
		}(w)
	}
	wg.Wait()
}
