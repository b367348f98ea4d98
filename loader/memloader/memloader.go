// Package memloader is a reference/test implementation of loader.Loader
// backed by an in-memory map, simulating decode latency. It exists for the
// test suite and cmd/bench — it is not a production decoder.
package memloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annoframe/framecache/frame"
	"github.com/annoframe/framecache/loader"
)

// Loader serves frames from a pre-populated map, optionally sleeping to
// simulate decode latency and optionally failing specific keys.
type Loader struct {
	mu       sync.RWMutex
	frames   map[frame.Key]frame.Buffer
	latency  time.Duration
	failKeys map[frame.Key]error
}

var _ loader.Loader = (*Loader)(nil)

// New constructs a Loader that returns frameSize-byte buffers for any key
// in [rng.Min, rng.Max], after sleeping latency to simulate decode work.
func New(rng frame.Range, frameSize int64, latency time.Duration) *Loader {
	l := &Loader{frames: make(map[frame.Key]frame.Buffer), latency: latency, failKeys: make(map[frame.Key]error)}
	for k := rng.Min; k <= rng.Max; k++ {
		l.frames[k] = frame.Buffer{
			Bytes:    make([]byte, 0), // payload content is irrelevant to cache accounting
			Width:    1920,
			Height:   1080,
			Channels: frame.RGB,
			Size:     frameSize,
		}
	}
	return l
}

// FailKey makes subsequent Load calls for key return err.
func (l *Loader) FailKey(key frame.Key, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failKeys[key] = err
}

// Load implements loader.Loader.
func (l *Loader) Load(ctx context.Context, key frame.Key) (frame.Buffer, error) {
	l.mu.RLock()
	failErr, shouldFail := l.failKeys[key]
	buf, ok := l.frames[key]
	latency := l.latency
	l.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return frame.Buffer{}, ctx.Err()
		}
	}

	if shouldFail {
		return frame.Buffer{}, failErr
	}
	if !ok {
		return frame.Buffer{}, fmt.Errorf("memloader: no frame for key %s", key)
	}
	return buf, nil
}
