package perf

import (
	"testing"
	"time"

	"github.com/annoframe/framecache/events"
)

func TestTimer_HitStopRecordsSample(t *testing.T) {
	bus := events.NewBus()
	tm := NewTimer(Config{FrameSwitchBudgetMs: 50, WarnThresholdMs: 45, HardThresholdMs: 50, RingSize: 16}, bus, AutomaticActions{})

	m := tm.Start()
	time.Sleep(time.Millisecond)
	m.Stop(true)

	snap := tm.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("Count = %d, want 1", snap.Count)
	}
	if snap.HitRate != 1.0 {
		t.Fatalf("HitRate = %v, want 1.0", snap.HitRate)
	}
}

func TestTimer_WarnThresholdPublishesWarning(t *testing.T) {
	bus := events.NewBus()
	var got events.PerformanceWarning
	n := 0
	events.Subscribe(bus, func(e events.PerformanceWarning) { got = e; n++ })

	tm := NewTimer(Config{FrameSwitchBudgetMs: 10, WarnThresholdMs: 1, HardThresholdMs: 1000, RingSize: 16}, bus, AutomaticActions{})
	m := tm.Start()
	time.Sleep(5 * time.Millisecond)
	m.Stop(true)

	if n == 0 {
		t.Fatal("expected at least one warning")
	}
	if got.Severity != events.Warning {
		t.Fatalf("Severity = %v, want Warning", got.Severity)
	}
}

func TestTimer_SustainedHardViolationsTriggerAutomaticActions(t *testing.T) {
	bus := events.NewBus()
	cleaned := make(chan struct{}, 1)
	shrunk := make(chan struct{}, 1)

	tm := NewTimer(Config{FrameSwitchBudgetMs: 1, WarnThresholdMs: 1, HardThresholdMs: 1, RingSize: 16}, bus, AutomaticActions{
		ForceCleanup:        func() { cleaned <- struct{}{} },
		ShrinkPreloadWindow: func() { shrunk <- struct{}{} },
	})

	for i := 0; i < 3; i++ {
		m := tm.Start()
		time.Sleep(5 * time.Millisecond) // exceeds HardThresholdMs of 1ms
		m.Stop(false)
	}

	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("expected ForceCleanup to run after 3 sustained violations")
	}
	select {
	case <-shrunk:
	case <-time.After(time.Second):
		t.Fatal("expected ShrinkPreloadWindow to run after 3 sustained violations")
	}
}

func TestTimer_SnapshotPercentilesOrdering(t *testing.T) {
	bus := events.NewBus()
	tm := NewTimer(Config{FrameSwitchBudgetMs: 1000, WarnThresholdMs: 1000, HardThresholdMs: 1000, RingSize: 256}, bus, AutomaticActions{})

	for i := 0; i < 100; i++ {
		m := tm.Start()
		m.Stop(true)
	}
	snap := tm.Snapshot()
	if snap.P50 > snap.P95 || snap.P95 > snap.P99 || snap.P99 > snap.Max {
		t.Fatalf("percentiles out of order: %+v", snap)
	}
}
