// Package predictor implements the Access Predictor: a cheap, local,
// side-effect-free (beyond its own state) heuristic that biases the
// preload window by direction, stride, and confidence.
package predictor

import (
	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
	"github.com/annoframe/framecache/internal/util"
)

const defaultWindow = 64

// Hint is the predictor's output, consulted by the preload scheduler to
// recompute its window.
type Hint struct {
	Direction  events.Direction
	Stride     int
	Confidence float64
}

// Predictor holds a bounded ring of recent access keys. It is not safe for
// concurrent use; the facade serializes Record and Predict with its own
// mutex.
type Predictor struct {
	ring []frame.Key
	mask int // len(ring)-1; ring's capacity is always a power of two
	head int
	n    int

	keyCounts map[frame.Key]int
}

// New constructs a Predictor with a ring of the given capacity, rounded up
// to the next power of two so index wraparound is a mask instead of a
// modulo; 0 uses the default of 64.
func New(windowSize int) *Predictor {
	if windowSize <= 0 {
		windowSize = defaultWindow
	}
	cap := int(util.NextPow2(uint64(windowSize)))
	return &Predictor{ring: make([]frame.Key, cap), mask: cap - 1, keyCounts: make(map[frame.Key]int, cap)}
}

// Record appends one access to the ring, evicting the oldest sample if
// full. O(1) amortized.
func (p *Predictor) Record(key frame.Key) {
	if p.n == len(p.ring) {
		old := p.ring[p.head]
		p.keyCounts[old]--
		if p.keyCounts[old] <= 0 {
			delete(p.keyCounts, old)
		}
	} else {
		p.n++
	}
	p.ring[p.head] = key
	p.keyCounts[key]++
	p.head = (p.head + 1) & p.mask
}

// Predict computes the current direction/stride/confidence hint from the
// ring's contents. O(K) where K is the ring size.
func (p *Predictor) Predict() Hint {
	if p.n < 2 {
		return Hint{Direction: events.DirectionUnknown, Stride: 0, Confidence: 0}
	}

	ordered := p.orderedSamples()

	if dominant, share := p.dominantKeyShare(ordered); share > 0.30 {
		_ = dominant
		return Hint{Direction: events.Stationary, Stride: 0, Confidence: share}
	}

	deltas := make([]int64, 0, len(ordered)-1)
	for i := 1; i < len(ordered); i++ {
		deltas = append(deltas, int64(ordered[i])-int64(ordered[i-1]))
	}

	pos, neg := 0, 0
	mags := make([]int64, len(deltas))
	for i, d := range deltas {
		if d > 0 {
			pos++
		} else if d < 0 {
			neg++
		}
		if d < 0 {
			mags[i] = -d
		} else {
			mags[i] = d
		}
	}

	total := len(deltas)
	dominantCount := pos
	dir := events.Forward
	if neg > pos {
		dominantCount = neg
		dir = events.Backward
	}

	agreement := float64(dominantCount) / float64(total)
	median := medianInt64(mags)

	if agreement >= 0.70 && median <= 3 {
		return Hint{Direction: dir, Stride: int(median), Confidence: agreement}
	}

	if highVariance(mags) {
		return Hint{Direction: events.Random, Stride: int(median), Confidence: 1 - agreement}
	}

	return Hint{Direction: events.DirectionUnknown, Stride: int(median), Confidence: agreement}
}

func (p *Predictor) orderedSamples() []frame.Key {
	out := make([]frame.Key, 0, p.n)
	if p.n < len(p.ring) {
		out = append(out, p.ring[:p.n]...)
		return out
	}
	out = append(out, p.ring[p.head:]...)
	out = append(out, p.ring[:p.head]...)
	return out
}

func (p *Predictor) dominantKeyShare(ordered []frame.Key) (frame.Key, float64) {
	var best frame.Key
	bestCount := 0
	for k, c := range p.keyCounts {
		if c > bestCount {
			best, bestCount = k, c
		}
	}
	if len(ordered) == 0 {
		return best, 0
	}
	return best, float64(bestCount) / float64(len(ordered))
}

func medianInt64(xs []int64) int64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]int64(nil), xs...)
	insertionSort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func insertionSort(xs []int64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// highVariance is a cheap population-variance check against a fixed
// threshold; it need not be exact, only a reasonable trigger for "random".
func highVariance(mags []int64) bool {
	if len(mags) == 0 {
		return false
	}
	var sum int64
	for _, m := range mags {
		sum += m
	}
	mean := float64(sum) / float64(len(mags))
	var variance float64
	for _, m := range mags {
		d := float64(m) - mean
		variance += d * d
	}
	variance /= float64(len(mags))
	const threshold = 100.0 // empirical: stride jitter beyond this looks unpredictable
	return variance > threshold
}
