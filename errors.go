package framecache

import "errors"

// Sentinel errors returned by Cache.Get. A memory-governor rejection during
// a foreground load is folded into ErrNotFound (plus an error-severity
// alert on the bus), never surfaced as a distinct error value.
var (
	// ErrNotFound is returned when the Frame Loader could not produce the
	// frame before the remaining frame-switch budget expired, or returned
	// an error itself.
	ErrNotFound = errors.New("framecache: frame not found")

	// ErrInvalidKey is returned when the requested key falls outside the
	// current project's frame range.
	ErrInvalidKey = errors.New("framecache: key outside current frame range")

	// ErrBudgetExhausted is returned only by internal admission paths (the
	// preload scheduler's background loads) that need to distinguish a
	// governor rejection from a Loader failure; Get never returns it.
	ErrBudgetExhausted = errors.New("framecache: memory budget exhausted, no evictable room")
)
