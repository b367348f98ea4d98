package governor

import (
	"testing"
	"time"

	"github.com/annoframe/framecache/events"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", timeout)
	}
}

func TestGovernor_SetResidentBytesPublishesUsage(t *testing.T) {
	bus := events.NewBus()
	var got events.MemoryUsage
	n := 0
	events.Subscribe(bus, func(e events.MemoryUsage) { got = e; n++ })

	g := New(Config{HardLimitBytes: 1000, SoftLimitBytes: 800, TargetAfterEvictionBytes: 700, GraceInterval: time.Hour}, bus)
	defer g.Close()

	g.SetResidentBytes(500)
	if n == 0 {
		t.Fatal("expected at least one memory_usage event")
	}
	if got.ResidentBytes != 500 || got.HardLimit != 1000 {
		t.Fatalf("got %+v", got)
	}
	if got.UsageRatio != 0.5 {
		t.Fatalf("UsageRatio = %v, want 0.5", got.UsageRatio)
	}
}

func TestGovernor_ProactivePauseAfterGraceInterval(t *testing.T) {
	bus := events.NewBus()
	paused := make(chan struct{}, 1)
	events.Subscribe(bus, func(events.PreloadPaused) {
		select {
		case paused <- struct{}{}:
		default:
		}
	})

	g := New(Config{
		HardLimitBytes: 1000, SoftLimitBytes: 500, TargetAfterEvictionBytes: 400,
		GraceMarginBytes: 0, GraceInterval: 30 * time.Millisecond,
	}, bus)
	defer g.Close()

	g.SetResidentBytes(600) // above soft limit

	waitFor(t, time.Second, func() bool { return g.Paused() })

	select {
	case <-paused:
	default:
		t.Fatal("expected a PreloadPaused event")
	}
}

func TestGovernor_ResumesAfterDroppingToTarget(t *testing.T) {
	bus := events.NewBus()
	resumed := make(chan struct{}, 1)
	events.Subscribe(bus, func(events.PreloadResumed) {
		select {
		case resumed <- struct{}{}:
		default:
		}
	})

	g := New(Config{
		HardLimitBytes: 1000, SoftLimitBytes: 500, TargetAfterEvictionBytes: 400,
		GraceMarginBytes: 0, GraceInterval: 20 * time.Millisecond,
	}, bus)
	defer g.Close()

	g.SetResidentBytes(600)
	waitFor(t, time.Second, func() bool { return g.Paused() })

	g.SetResidentBytes(300) // below target
	waitFor(t, time.Second, func() bool { return !g.Paused() })

	select {
	case <-resumed:
	default:
		t.Fatal("expected a PreloadResumed event")
	}
}

func TestGovernor_ReportRejectionPublishesErrorSeverity(t *testing.T) {
	bus := events.NewBus()
	var got events.PerformanceWarning
	events.Subscribe(bus, func(e events.PerformanceWarning) { got = e })

	g := New(Config{HardLimitBytes: 1000, SoftLimitBytes: 800, TargetAfterEvictionBytes: 700, GraceInterval: time.Hour}, bus)
	defer g.Close()

	g.ReportRejection(900, 200)

	if got.Metric != "budget_exhausted" {
		t.Fatalf("Metric = %q", got.Metric)
	}
	if got.Severity != events.Error {
		t.Fatalf("Severity = %v, want Error", got.Severity)
	}
	if got.Value != 1100 {
		t.Fatalf("Value = %v, want 1100", got.Value)
	}
}
