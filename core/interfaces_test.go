package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Test PanicHandler
// =============================================================================

// TestPanicHandler is a mock panic handler for testing
type TestPanicHandler struct {
	mu    sync.Mutex
	calls []PanicCall
}

type PanicCall struct {
	SchedulerName string
	ProcessorID   int
	Coroutine     string
	PanicInfo     any
	Stack         []byte
}

func NewTestPanicHandler() *TestPanicHandler {
	return &TestPanicHandler{}
}

func (h *TestPanicHandler) HandlePanic(ctx context.Context, schedulerName string, processorID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	call := PanicCall{
		SchedulerName: schedulerName,
		ProcessorID:   processorID,
		PanicInfo:     panicInfo,
		Stack:         stackTrace,
	}
	if co := CurrentCoroutine(ctx); co != nil {
		call.Coroutine = co.Name()
	}
	h.calls = append(h.calls, call)
}

func (h *TestPanicHandler) GetCalls() []PanicCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PanicCall(nil), h.calls...)
}

func (h *TestPanicHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// =============================================================================
// Test Metrics
// =============================================================================

// TestMetrics is a mock metrics collector for testing
type TestMetrics struct {
	mu        sync.Mutex
	runs      int
	panics    []any
	steals    int
	blocked   []bool
	unblocked []UnblockResult
}

func NewTestMetrics() *TestMetrics {
	return &TestMetrics{}
}

func (m *TestMetrics) RecordCoroutineRun(schedulerName string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func (m *TestMetrics) RecordCoroutinePanic(schedulerName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics = append(m.panics, panicInfo)
}

func (m *TestMetrics) RecordQueueDepth(schedulerName string, processorID int, depth int) {}

func (m *TestMetrics) RecordSteal(schedulerName string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steals += count
}

func (m *TestMetrics) RecordProcessorBlocked(schedulerName string, replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, replaced)
}

func (m *TestMetrics) RecordProcessorUnblocked(schedulerName string, result UnblockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unblocked = append(m.unblocked, result)
}

func (m *TestMetrics) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func (m *TestMetrics) Panics() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.panics...)
}

func (m *TestMetrics) Blocked() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.blocked...)
}

func (m *TestMetrics) Unblocked() []UnblockResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UnblockResult(nil), m.unblocked...)
}

// =============================================================================
// Test helpers
// =============================================================================

func newTestScheduler(t *testing.T, concurrency int) (*Scheduler, *TestPanicHandler) {
	t.Helper()
	handler := NewTestPanicHandler()
	s := NewSchedulerWithConfig(&SchedulerConfig{
		Name:         t.Name(),
		Concurrency:  concurrency,
		PanicHandler: handler,
		Logger:       NewNoOpLogger(),
	})
	s.Start(context.Background())
	t.Cleanup(s.Shutdown)
	return s, handler
}

func waitQuiescent(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.WaitContext(ctx); err != nil {
		var buf strings.Builder
		_ = s.DebugDump(&buf)
		t.Fatalf("scheduler did not drain: %v\n%s", err, buf.String())
	}
}

// =============================================================================
// Tests
// =============================================================================

// TestPanicHandler_CoroutinePanic verifies panics reach the handler
// Given: A scheduler with a recording panic handler
// When: A coroutine body panics
// Then: The handler sees the value, scheduler name and coroutine, and the scheduler keeps running
func TestPanicHandler_CoroutinePanic(t *testing.T) {
	// Arrange
	s, handler := newTestScheduler(t, 2)

	// Act
	s.Spawn("boom", func(ctx context.Context) {
		panic("test panic")
	})
	waitQuiescent(t, s)

	ran := make(chan struct{})
	s.Spawn("after", func(ctx context.Context) { close(ran) })
	waitQuiescent(t, s)

	// Assert
	calls := handler.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("handler called %d times, want 1", len(calls))
	}
	if calls[0].PanicInfo != "test panic" {
		t.Errorf("PanicInfo = %v, want %q", calls[0].PanicInfo, "test panic")
	}
	if calls[0].SchedulerName != t.Name() {
		t.Errorf("SchedulerName = %q, want %q", calls[0].SchedulerName, t.Name())
	}
	if calls[0].Coroutine != "boom" {
		t.Errorf("Coroutine = %q, want %q", calls[0].Coroutine, "boom")
	}
	if len(calls[0].Stack) == 0 {
		t.Error("Stack is empty")
	}
	select {
	case <-ran:
	default:
		t.Error("coroutine spawned after the panic did not run")
	}

	rec, ok := s.LastCoroutine()
	if !ok || rec.Name != "after" {
		t.Errorf("LastCoroutine() = %+v, %v", rec, ok)
	}
	for _, r := range s.RecentCoroutines(0) {
		if r.Name == "boom" && !r.Panicked {
			t.Error("history record for panicking coroutine has Panicked=false")
		}
	}
}

// TestMetrics_Recorded verifies the scheduler reports to Metrics
// Given: A scheduler with a recording Metrics implementation
// When: Coroutines run and one panics
// Then: Runs and panics are recorded
func TestMetrics_Recorded(t *testing.T) {
	// Arrange
	metrics := NewTestMetrics()
	s := NewSchedulerWithConfig(&SchedulerConfig{
		Concurrency:  2,
		Metrics:      metrics,
		PanicHandler: NewTestPanicHandler(),
		Logger:       NewNoOpLogger(),
	})
	s.Start(context.Background())
	defer s.Shutdown()

	// Act
	for range 10 {
		s.Spawn("", func(ctx context.Context) {})
	}
	s.Spawn("boom", func(ctx context.Context) { panic("metrics panic") })
	waitQuiescent(t, s)

	// Assert
	if got := metrics.Runs(); got < 11 {
		t.Errorf("Runs() = %d, want at least 11", got)
	}
	if got := metrics.Panics(); len(got) != 1 || got[0] != "metrics panic" {
		t.Errorf("Panics() = %v, want [metrics panic]", got)
	}
}

// TestDefaultSchedulerConfig verifies default handlers
// Given: The default config and a nil config
// When: Defaults are applied
// Then: Every handler is set and the logger is tagged with the name
func TestDefaultSchedulerConfig(t *testing.T) {
	// Arrange
	config := DefaultSchedulerConfig()

	// Act
	applied := config.withDefaults()
	fromNil := (*SchedulerConfig)(nil).withDefaults()

	// Assert
	for _, c := range []SchedulerConfig{applied, fromNil} {
		if c.Name != defaultSchedulerName {
			t.Errorf("Name = %q, want %q", c.Name, defaultSchedulerName)
		}
		if c.Concurrency != 1 {
			t.Errorf("Concurrency = %d, want 1", c.Concurrency)
		}
		if c.HistoryCapacity != defaultHistoryCapacity {
			t.Errorf("HistoryCapacity = %d, want %d", c.HistoryCapacity, defaultHistoryCapacity)
		}
		if _, ok := c.Metrics.(*NilMetrics); !ok {
			t.Errorf("Metrics should be *NilMetrics, got %T", c.Metrics)
		}
		if _, ok := c.Tracer.(NopTracer); !ok {
			t.Errorf("Tracer should be NopTracer, got %T", c.Tracer)
		}
		if _, ok := c.Stacks.(GoroutineStacks); !ok {
			t.Errorf("Stacks should be GoroutineStacks, got %T", c.Stacks)
		}
		h, ok := c.PanicHandler.(*DefaultPanicHandler)
		if !ok {
			t.Fatalf("PanicHandler should be *DefaultPanicHandler, got %T", c.PanicHandler)
		}
		if h.Logger == nil {
			t.Error("DefaultPanicHandler has no logger")
		}
		if l, ok := c.Logger.(*DefaultLogger); !ok || l.Prefix != defaultSchedulerName {
			t.Errorf("Logger = %#v, want DefaultLogger tagged %q", c.Logger, defaultSchedulerName)
		}
	}
}

// TestSchedulerConfig_CustomHandlers verifies custom handlers are kept
// Given: A config with custom panic handler, metrics and logger
// When: Defaults are applied
// Then: The custom values survive
func TestSchedulerConfig_CustomHandlers(t *testing.T) {
	// Arrange
	panicHandler := NewTestPanicHandler()
	metrics := NewTestMetrics()
	logger := NewNoOpLogger()
	config := &SchedulerConfig{
		Name:         "custom",
		Concurrency:  3,
		PanicHandler: panicHandler,
		Metrics:      metrics,
		Logger:       logger,
	}

	// Act
	applied := config.withDefaults()

	// Assert
	if applied.PanicHandler != panicHandler {
		t.Error("PanicHandler was replaced")
	}
	if applied.Metrics != metrics {
		t.Error("Metrics was replaced")
	}
	if applied.Logger != logger {
		t.Error("Logger was replaced")
	}
	if applied.Name != "custom" || applied.Concurrency != 3 {
		t.Errorf("Name/Concurrency = %q/%d, want custom/3", applied.Name, applied.Concurrency)
	}
}
