package store

import (
	"log"
	"sync/atomic"

	"github.com/annoframe/framecache/frame"
)

// Borrow is a non-owning reference to a resident entry's buffer, held for
// the duration of a consumer's use. It must be released exactly once; a
// second Release is a programmer error (DoubleRelease), detected and
// handled according to DebugDoubleRelease below.
type Borrow struct {
	s *Store
	h handle

	Key    frame.Key
	Buffer frame.Buffer

	released *atomic.Bool
}

func newBorrow(s *Store, h handle, e Entry) Borrow {
	return Borrow{s: s, h: h, Key: e.Key, Buffer: e.Buffer, released: new(atomic.Bool)}
}

// Valid reports whether this Borrow holds a live pin (false for the zero
// value returned alongside a miss).
func (b Borrow) Valid() bool { return b.s != nil }

// Release drops the pin held by this Borrow. Safe to call from any
// goroutine, exactly once. DebugDoubleRelease controls what happens on a
// second call: panic (debug builds) or a logged no-op (release builds).
func (b Borrow) Release() {
	if !b.Valid() {
		return
	}
	if b.released.Swap(true) {
		if DebugDoubleRelease {
			panic("store: borrow released twice (DoubleRelease)")
		}
		log.Printf("store: double release of borrow for key %s (ignored)", b.Key)
		return
	}
	b.s.releasePin(b.h)
}

// DebugDoubleRelease switches DoubleRelease handling from "log and ignore"
// to "panic". Tests and debug builds should set this true; it defaults to
// false so a misbehaving production consumer degrades rather than crashes
// the annotator.
var DebugDoubleRelease = false
