// Command bench runs a synthetic scrubbing workload against the frame
// cache, serves Prometheus metrics, and exposes an optional pprof endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annoframe/framecache"
	"github.com/annoframe/framecache/events"
	"github.com/annoframe/framecache/frame"
	"github.com/annoframe/framecache/loader/memloader"
	pmet "github.com/annoframe/framecache/metrics/prom"
)

func main() {
	var (
		frames      = flag.Int("frames", 5000, "project frame count")
		frameBytes  = flag.Int64("frame_bytes", 3840*2160*4, "bytes per decoded frame (4K RGBA default)")
		hardLimitMB = flag.Int64("hard_limit_mb", 2048, "hard memory limit, MiB")
		softLimitMB = flag.Int64("soft_limit_mb", 1800, "soft memory limit, MiB")
		targetMB    = flag.Int64("target_mb", 1700, "target-after-eviction, MiB")

		duration    = flag.Duration("duration", 10*time.Second, "benchmark duration")
		seqPct      = flag.Int("seq_pct", 85, "percentage of moves that are a single sequential step")
		viewMillis  = flag.Int("view_ms", 5, "simulated time the annotator holds a frame pinned")
		loadLatency = flag.Duration("load_latency", 15*time.Millisecond, "simulated decode latency per frame")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	rng := frame.Range{Min: 0, Max: frame.Key(*frames - 1)}

	bus := events.NewBus()
	_ = pmet.New(bus, nil, "framecache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	ld := memloader.New(rng, *frameBytes, *loadLatency)

	cfg := framecache.DefaultConfig()
	cfg.HardLimitBytes = *hardLimitMB * 1024 * 1024
	cfg.SoftLimitBytes = *softLimitMB * 1024 * 1024
	cfg.TargetAfterEvictionBytes = *targetMB * 1024 * 1024
	cfg.MaxEntries = *frames

	c := framecache.New(cfg, bus, ld)
	defer c.Close()

	events.Publish(bus, events.ProjectOpened{FrameRange: rng})

	r := rand.New(rand.NewSource(*seed))
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var ops, errs int
	current := rng.Min
	start := time.Now()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		prev := current
		dirHint := events.Forward
		if r.Intn(100) < *seqPct {
			current = rng.Neighbor(current, 1)
		} else {
			current = frame.Key(r.Int63n(int64(*frames)))
			dirHint = events.DirectionUnknown
		}
		events.Publish(bus, events.FrameChanged{CurrentKey: current, PreviousKey: prev, DirectionHint: dirHint, At: time.Now()})

		getCtx, getCancel := context.WithTimeout(ctx, time.Duration(cfg.FrameSwitchBudgetMs)*time.Millisecond*4)
		b, err := c.Get(getCtx, current)
		getCancel()
		ops++
		if err != nil {
			errs++
			continue
		}
		time.Sleep(time.Duration(*viewMillis) * time.Millisecond)
		b.Release()
	}
	elapsed := time.Since(start)

	stats := c.Stats()
	fmt.Printf("frames=%d hard=%dMiB duration=%v seed=%d\n", *frames, *hardLimitMB, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  errors=%d\n", ops, float64(ops)/elapsed.Seconds(), errs)
	fmt.Printf("hits=%d  misses=%d  evictions=%d  entries=%d  resident=%dMiB\n",
		stats.Hits, stats.Misses, stats.Evictions, stats.EntryCount, stats.ResidentBytes/1024/1024)
	fmt.Printf("latency: p50=%v p95=%v p99=%v max=%v hit_rate=%.2f%%\n",
		stats.Latency.P50, stats.Latency.P95, stats.Latency.P99, stats.Latency.Max, stats.Latency.HitRate*100)
}
