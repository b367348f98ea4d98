// Package frame defines the data model shared by every layer of the cache:
// the opaque frame identifier, the frame-range bounds, and the immutable
// decoded-frame buffer.
package frame

import "fmt"

// Key addresses a single decoded frame. It is a thin integer newtype rather
// than the raw zero-padded string the annotation tool persists on disk —
// comparisons and neighbor arithmetic are cheaper on an integer, and String
// reproduces the zero-padded form for logging/diagnostics.
type Key int64

// String renders the key the way the annotation tool names frame files on
// disk: a 6-digit zero-padded decimal. Keys outside that width still print,
// just without padding.
func (k Key) String() string {
	return fmt.Sprintf("%06d", int64(k))
}

// Range describes the known frame bounds of the open project, supplied by a
// project_opened event (see events.ProjectOpened). Neighbor computation
// saturates at these bounds instead of wrapping or going negative.
type Range struct {
	Min Key
	Max Key
}

// Contains reports whether k falls within the range, inclusive.
func (r Range) Contains(k Key) bool {
	return k >= r.Min && k <= r.Max
}

// Neighbor returns k+n, saturated at the range bounds.
func (r Range) Neighbor(k Key, n int) Key {
	v := int64(k) + int64(n)
	if v < int64(r.Min) {
		return r.Min
	}
	if v > int64(r.Max) {
		return r.Max
	}
	return Key(v)
}

// Clamp saturates k to the range bounds.
func (r Range) Clamp(k Key) Key {
	if k < r.Min {
		return r.Min
	}
	if k > r.Max {
		return r.Max
	}
	return k
}
