package predictor

import (
	"testing"

	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
)

func TestPredictor_TooFewSamplesIsUnknown(t *testing.T) {
	p := New(8)
	p.Record(10)
	hint := p.Predict()
	if hint.Direction != events.DirectionUnknown {
		t.Fatalf("Direction = %v, want DirectionUnknown", hint.Direction)
	}
}

func TestPredictor_SequentialForwardIsDetected(t *testing.T) {
	p := New(16)
	for k := frame.Key(100); k < 112; k++ {
		p.Record(k)
	}
	hint := p.Predict()
	if hint.Direction != events.Forward {
		t.Fatalf("Direction = %v, want Forward", hint.Direction)
	}
	if hint.Stride != 1 {
		t.Fatalf("Stride = %d, want 1", hint.Stride)
	}
}

func TestPredictor_SequentialBackwardIsDetected(t *testing.T) {
	p := New(16)
	for k := frame.Key(200); k > 188; k-- {
		p.Record(k)
	}
	hint := p.Predict()
	if hint.Direction != events.Backward {
		t.Fatalf("Direction = %v, want Backward", hint.Direction)
	}
}

func TestPredictor_StationaryDominantKeyIsDetected(t *testing.T) {
	p := New(16)
	for i := 0; i < 10; i++ {
		p.Record(50)
		if i%3 == 0 {
			p.Record(50 + frame.Key(i%2))
		}
	}
	hint := p.Predict()
	if hint.Direction != events.Stationary {
		t.Fatalf("Direction = %v, want Stationary", hint.Direction)
	}
}

func TestPredictor_RingEvictsOldestOnOverflow(t *testing.T) {
	p := New(4) // rounds up to next power of two (4 already is)
	for k := frame.Key(0); k < 4; k++ {
		p.Record(k)
	}
	// Overflow: key 0, the oldest sample, should be evicted from the ring.
	p.Record(100)
	ordered := p.orderedSamples()
	if len(ordered) != 4 {
		t.Fatalf("len(ordered) = %d, want 4", len(ordered))
	}
	for _, k := range ordered {
		if k == 0 {
			t.Fatal("key 0 should have been evicted from the ring")
		}
	}
}
