package core

import (
	"context"
	"os"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling coroutine panics
// =============================================================================

// PanicHandler is called when a coroutine body panics.
//
// A panic escaping a coroutine leaves the scheduling state of that
// coroutine unknown, so the default handler terminates the process.
// Implementations that return instead leave the coroutine Finished and
// the scheduler running.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called on the processor goroutine that resumed the coroutine.
	//
	// Parameters:
	// - ctx: The coroutine's context (CurrentCoroutine(ctx) returns it)
	// - schedulerName: The name of the scheduler that owns the coroutine
	// - processorID: The ID of the processor that was running it
	// - panicInfo: The panic value recovered from the coroutine body
	// - stackTrace: The coroutine's stack trace at the time of panic
	HandlePanic(ctx context.Context, schedulerName string, processorID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs the panic and aborts the process.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information and exits with status 2.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, schedulerName string, processorID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger(schedulerName)
	}
	name := ""
	if co := CurrentCoroutine(ctx); co != nil {
		name = co.Name()
	}
	logger.Error("unexpected panic in coroutine",
		F("coroutine", name),
		F("processor", processorID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
	os.Exit(2)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from processor goroutines and must be non-blocking
// and fast to avoid impacting scheduling.
type Metrics interface {
	// RecordCoroutineRun records how long one resume of a coroutine took,
	// from entry until it suspended or finished.
	RecordCoroutineRun(schedulerName string, duration time.Duration)

	// RecordCoroutinePanic records that a coroutine body panicked.
	RecordCoroutinePanic(schedulerName string, panicInfo any)

	// RecordQueueDepth records a processor's local queue depth.
	RecordQueueDepth(schedulerName string, processorID int, depth int)

	// RecordSteal records a successful steal of count coroutines.
	RecordSteal(schedulerName string, count int)

	// RecordProcessorBlocked records a processor stepping aside for a
	// foreign blocking call. replaced reports whether a stand-in
	// processor was started.
	RecordProcessorBlocked(schedulerName string, replaced bool)

	// RecordProcessorUnblocked records the outcome of an unblock.
	RecordProcessorUnblocked(schedulerName string, result UnblockResult)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordCoroutineRun(schedulerName string, duration time.Duration)     {}
func (m *NilMetrics) RecordCoroutinePanic(schedulerName string, panicInfo any)            {}
func (m *NilMetrics) RecordQueueDepth(schedulerName string, processorID int, depth int)   {}
func (m *NilMetrics) RecordSteal(schedulerName string, count int)                         {}
func (m *NilMetrics) RecordProcessorBlocked(schedulerName string, replaced bool)          {}
func (m *NilMetrics) RecordProcessorUnblocked(schedulerName string, result UnblockResult) {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

const (
	defaultSchedulerName = "scheduler"
	defaultStackSize     = 64 * 1024
)

// SchedulerConfig holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name labels logs, metrics and dumps. Defaults to "scheduler".
	Name string

	// Concurrency is the target number of unblocked processors.
	Concurrency int

	// StackSize is passed to the StackFactory for every coroutine.
	StackSize int

	// HistoryCapacity bounds the finished-coroutine history.
	HistoryCapacity int

	// PanicHandler is called when a coroutine panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics records scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// Logger defaults to a DefaultLogger tagged with Name.
	Logger Logger

	// Tracer receives trace events. Defaults to NopTracer.
	Tracer Tracer

	// Stacks creates coroutine stacks. Defaults to GoroutineStacks.
	Stacks StackFactory
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Name:            defaultSchedulerName,
		Concurrency:     1,
		StackSize:       defaultStackSize,
		HistoryCapacity: defaultHistoryCapacity,
		PanicHandler:    &DefaultPanicHandler{},
		Metrics:         &NilMetrics{},
		Tracer:          NopTracer{},
		Stacks:          GoroutineStacks{},
	}
}

func (c *SchedulerConfig) withDefaults() SchedulerConfig {
	out := *DefaultSchedulerConfig()
	if c == nil {
		c = &SchedulerConfig{}
	}
	if c.Name != "" {
		out.Name = c.Name
	}
	if c.Concurrency > 0 {
		out.Concurrency = c.Concurrency
	}
	if c.StackSize > 0 {
		out.StackSize = c.StackSize
	}
	if c.HistoryCapacity > 0 {
		out.HistoryCapacity = c.HistoryCapacity
	}
	if c.PanicHandler != nil {
		out.PanicHandler = c.PanicHandler
	}
	if c.Metrics != nil {
		out.Metrics = c.Metrics
	}
	if c.Tracer != nil {
		out.Tracer = c.Tracer
	}
	if c.Stacks != nil {
		out.Stacks = c.Stacks
	}
	out.Logger = c.Logger
	if out.Logger == nil {
		out.Logger = NewDefaultLogger(out.Name)
	}
	if h, ok := out.PanicHandler.(*DefaultPanicHandler); ok && h.Logger == nil {
		out.PanicHandler = &DefaultPanicHandler{Logger: out.Logger}
	}
	return out
}
