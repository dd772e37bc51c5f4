package core

import "context"

// Task is the body of a coroutine. The context carries the coroutine
// itself; pass it to channel operations, Block/Unblock, Yield and Go.
type Task func(ctx context.Context)

// =============================================================================
// Context Helper
// =============================================================================

type coroutineKeyType struct{}

var coroutineKey coroutineKeyType

func withCoroutine(ctx context.Context, co *Coroutine) context.Context {
	return context.WithValue(ctx, coroutineKey, co)
}

// CurrentCoroutine returns the coroutine whose body received ctx, or nil
// when ctx does not belong to a coroutine.
func CurrentCoroutine(ctx context.Context) *Coroutine {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(coroutineKey); v != nil {
		return v.(*Coroutine)
	}
	return nil
}

// CurrentScheduler returns the scheduler that owns the coroutine of ctx.
func CurrentScheduler(ctx context.Context) *Scheduler {
	if co := CurrentCoroutine(ctx); co != nil {
		return co.sched
	}
	return nil
}

// CurrentProcessor returns the processor running the coroutine of ctx.
// The result is only meaningful until the coroutine next suspends.
func CurrentProcessor(ctx context.Context) *Processor {
	if co := CurrentCoroutine(ctx); co != nil {
		return co.proc
	}
	return nil
}

// Go spawns a coroutine on the scheduler owning the calling coroutine.
// It panics when ctx does not belong to a coroutine.
func Go(ctx context.Context, name string, task Task) *Coroutine {
	co := CurrentCoroutine(ctx)
	if co == nil {
		panic("core.Go: called outside a coroutine; use Scheduler.Spawn")
	}
	return co.sched.spawn(co.proc, name, task)
}
