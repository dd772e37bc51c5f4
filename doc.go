// Package coro provides an M:N coroutine runtime for Go.
//
// Coroutines are cheap cooperative tasks multiplexed over a small pool of
// processors. Each processor owns a local run queue; idle processors steal
// half of a busy sibling's queue. Coroutines talk through bounded, closable
// channels that suspend the coroutine rather than the processor.
//
// # Quick Start
//
// Initialize the global scheduler at application startup:
//
//	coro.InitGlobalScheduler(4) // 4 processors
//	defer coro.ShutdownGlobalScheduler()
//
// Spawn coroutines and wait for them:
//
//	coro.Go("hello", func(ctx context.Context) {
//		fmt.Println("hello from a coroutine")
//	})
//	coro.Wait()
//
// # Key Concepts
//
// Scheduler: owns the processors, the global overflow queue and the set of
// processors currently inside a blocking call.
//
// Processor: runs one coroutine at a time from its local queue, steals when
// empty and parks when there is nothing left anywhere.
//
// Channel: MakeChannel returns a Reader and a Writer. Put suspends while the
// buffer is full, Get while it is empty. Close wakes every waiter; buffered
// items stay readable until drained.
//
// # Blocking Calls
//
// A coroutine about to make a call that may block its OS thread brackets it
// with Block and Unblock:
//
//	coro.Block(ctx, "read input")
//	n, err := f.Read(buf)
//	coro.Unblock(ctx, "read input")
//
// Block hands the processor's queue to the scheduler, which starts a stand-in
// processor so other coroutines keep running. Unblock either resumes on the
// same processor or, when a stand-in took its place, requeues the coroutine
// and retires the processor.
//
// # Example
//
//	import (
//		"context"
//		"github.com/Swind/go-coro"
//	)
//
//	func main() {
//		coro.InitGlobalScheduler(4)
//		defer coro.ShutdownGlobalScheduler()
//
//		r, w := coro.MakeChannel[int](2, "numbers")
//		coro.Go("producer", func(ctx context.Context) {
//			defer w.Close()
//			for i := range 3 {
//				_ = w.Put(ctx, i)
//			}
//		})
//		coro.Go("consumer", func(ctx context.Context) {
//			for {
//				v, err := r.Get(ctx)
//				if err != nil {
//					return
//				}
//				println(v)
//			}
//		})
//		coro.Wait()
//	}
package coro
