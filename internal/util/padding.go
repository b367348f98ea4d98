// Package util contains small internal helpers (cache-line padding, power-
// of-two rounding) shared by the governor and predictor packages.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is a reasonable default for most modern CPUs.
// std has runtime/internal/sys.CacheLineSize but it's unexported.
// 64 works well in practice.
const CacheLineSize = 64

// PaddedAtomicInt64 is an atomic int64 padded to exactly one cache line.
// Use when a hot counter sits next to other frequently-accessed fields and
// would otherwise false-share their cache line.
type PaddedAtomicInt64 struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte // 8 = size of int64; pad to 64 bytes
}

// ---- Compile-time size check (must be exactly one cache line) ----

var _ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicInt64{}))]byte
