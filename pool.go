package coro

import (
	"context"
	"io"
	"sync"

	"github.com/Swind/go-coro/core"
)

// =============================================================================
// Current Scheduler
// =============================================================================

var (
	currentScheduler *core.Scheduler
	currentMu        sync.RWMutex
)

// SetScheduler makes s the process-wide current scheduler.
// Signal handlers and diagnostics reach the runtime through it.
func SetScheduler(s *core.Scheduler) {
	currentMu.Lock()
	currentScheduler = s
	currentMu.Unlock()
}

// ClearScheduler resets the current scheduler.
func ClearScheduler() {
	SetScheduler(nil)
}

// CurrentScheduler returns the current scheduler, or nil if none is set.
func CurrentScheduler() *core.Scheduler {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return currentScheduler
}

// mustCurrent returns the current scheduler or panics.
func mustCurrent() *core.Scheduler {
	s := CurrentScheduler()
	if s == nil {
		panic("coro: no current scheduler. Call SetScheduler() or InitGlobalScheduler() first.")
	}
	return s
}

// Go spawns a coroutine on the current scheduler.
// It works from bootstrap code as well as from inside a coroutine.
func Go(name string, task Task) *Coroutine {
	return mustCurrent().Spawn(name, task)
}

// GoContext spawns a coroutine next to the caller when ctx belongs to a
// running coroutine, and on the current scheduler otherwise.
func GoContext(ctx context.Context, name string, task Task) *Coroutine {
	if core.CurrentCoroutine(ctx) != nil {
		return core.Go(ctx, name, task)
	}
	return Go(name, task)
}

// Wait blocks until the current scheduler has no live coroutines.
func Wait() {
	mustCurrent().Wait()
}

// DebugDump writes the current scheduler's state to w.
// It is a no-op when no scheduler is set.
func DebugDump(w io.Writer) error {
	s := CurrentScheduler()
	if s == nil {
		return nil
	}
	return s.DebugDump(w)
}

// =============================================================================
// Global Scheduler Helper (Singleton)
// =============================================================================

var (
	globalScheduler *core.Scheduler
	globalMu        sync.Mutex
)

// InitGlobalScheduler creates, starts and sets the global scheduler with
// the given number of processors. Repeated calls return the existing one.
func InitGlobalScheduler(concurrency int) *core.Scheduler {
	cfg := core.DefaultSchedulerConfig()
	cfg.Name = "global"
	cfg.Concurrency = concurrency
	return InitGlobalSchedulerWithConfig(cfg)
}

// InitGlobalSchedulerWithConfig is InitGlobalScheduler with a full configuration.
func InitGlobalSchedulerWithConfig(cfg *core.SchedulerConfig) *core.Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		return globalScheduler
	}

	globalScheduler = core.NewSchedulerWithConfig(cfg)
	globalScheduler.Start(context.Background())
	SetScheduler(globalScheduler)
	return globalScheduler
}

// GetGlobalScheduler returns the global scheduler instance.
// It panics if InitGlobalScheduler has not been called.
func GetGlobalScheduler() *core.Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("GlobalScheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalScheduler
}

// ShutdownGlobalScheduler stops the global scheduler and clears the
// current scheduler if it still points at it.
func ShutdownGlobalScheduler() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		return
	}
	globalScheduler.Shutdown()

	currentMu.Lock()
	if currentScheduler == globalScheduler {
		currentScheduler = nil
	}
	currentMu.Unlock()
	globalScheduler = nil
}
