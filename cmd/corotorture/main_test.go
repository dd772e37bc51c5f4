package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Swind/go-coro"
	"github.com/Swind/go-coro/config"
	"github.com/Swind/go-coro/core"
	"github.com/Swind/go-coro/trace"
	"github.com/samber/do"
)

func quietOverrides(t *testing.T) flagOverrides {
	t.Helper()
	return flagOverrides{
		configPath:  filepath.Join(t.TempDir(), "absent.toml"),
		threads:     2,
		metricsAddr: "127.0.0.1:0",
	}
}

// TestRunStress_DeliversInOrder verifies the stress workload
// Given: A running scheduler
// When: Pairs exchange messages with yields and blocking calls mixed in
// Then: Every message arrives in order
func TestRunStress_DeliversInOrder(t *testing.T) {
	// Arrange
	s := core.NewSchedulerWithConfig(&core.SchedulerConfig{
		Concurrency: 3,
		Logger:      core.NewNoOpLogger(),
	})
	s.Start(context.Background())
	defer s.Shutdown()
	opts := stressOptions{
		Pairs:      8,
		Messages:   500,
		Capacity:   2,
		YieldEvery: 7,
		BlockEvery: 100,
		BlockFor:   50 * time.Microsecond,
	}

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	res, err := runStress(ctx, s, opts)

	// Assert
	if err != nil {
		t.Fatalf("runStress: %v", err)
	}
	if res.Delivered != 8*500 {
		t.Errorf("delivered %d, want %d", res.Delivered, 8*500)
	}
	if res.Mismatched != 0 {
		t.Errorf("mismatched = %d", res.Mismatched)
	}
}

// TestInjector_AppliesOverrides verifies flag overrides reach the scheduler
func TestInjector_AppliesOverrides(t *testing.T) {
	o := quietOverrides(t)
	o.threads = 5
	injector := newInjector(o)
	defer injector.Shutdown()

	cfg := do.MustInvoke[*config.Config](injector)
	sched := do.MustInvoke[*core.Scheduler](injector)

	if cfg.Scheduler.Threads != 5 || sched.Concurrency() != 5 {
		t.Errorf("threads = %d, concurrency = %d, want 5", cfg.Scheduler.Threads, sched.Concurrency())
	}
	if _, ok := do.MustInvoke[core.Tracer](injector).(core.NopTracer); !ok {
		t.Error("tracer should be a no-op without a trace path")
	}
}

// TestHarness_ServesMetricsAndDumps verifies the process surroundings
// Given: A harness with a metrics address and a trace file
// When: It starts, runs coroutines and shuts down
// Then: /metrics serves scheduler series, the dump hook works and the trace file is complete
func TestHarness_ServesMetricsAndDumps(t *testing.T) {
	// Arrange
	o := quietOverrides(t)
	o.tracePath = filepath.Join(t.TempDir(), "trace.jsonl")
	injector := newInjector(o)
	h := do.MustInvoke[*harness](injector)
	var dump bytes.Buffer
	h.DumpTo = &dump
	sched := do.MustInvoke[*core.Scheduler](injector)

	// Act
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 10 {
		sched.Spawn("", func(ctx context.Context) { core.Yield(ctx) })
	}
	sched.Wait()

	if coro.CurrentScheduler() != sched {
		t.Error("harness should register the current scheduler")
	}
	if err := coro.DebugDump(&dump); err != nil {
		t.Fatalf("DebugDump: %v", err)
	}

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + h.MetricsAddr() + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		body = string(raw)
		if strings.Contains(body, "coro_scheduler_spawned_total") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := injector.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// Assert
	for _, series := range []string{"coro_coroutine_run_seconds", "coro_scheduler_spawned_total", "go_goroutines"} {
		if !strings.Contains(body, series) {
			t.Errorf("/metrics missing %s", series)
		}
	}
	if !strings.Contains(dump.String(), "PROCESSOR") {
		t.Errorf("dump missing processor table:\n%s", dump.String())
	}
	if coro.CurrentScheduler() != nil {
		t.Error("shutdown should clear the current scheduler")
	}
	f, err := os.Open(o.tracePath)
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	defer f.Close()
	_, events, err := trace.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) == 0 {
		t.Error("trace file has no events")
	}
}
