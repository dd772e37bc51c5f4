package coro_test

import (
	"context"
	"fmt"

	"github.com/Swind/go-coro"
)

// ExampleGo demonstrates spawning coroutines with only one import.
func ExampleGo() {
	coro.InitGlobalScheduler(1)
	defer coro.ShutdownGlobalScheduler()

	coro.Go("greeter", func(ctx context.Context) {
		fmt.Println("Hello")
		coro.Yield(ctx)
		fmt.Println("World")
	})
	coro.Wait()

	// Output:
	// Hello
	// World
}

// ExampleMakeChannel demonstrates a producer and a consumer with backpressure.
func ExampleMakeChannel() {
	coro.InitGlobalScheduler(2)
	defer coro.ShutdownGlobalScheduler()

	r, w := coro.MakeChannel[int](2, "numbers")
	coro.Go("producer", func(ctx context.Context) {
		defer w.Close()
		for i := 1; i <= 3; i++ {
			_ = w.Put(ctx, i)
		}
	})
	coro.Go("consumer", func(ctx context.Context) {
		for {
			v, err := r.Get(ctx)
			if err != nil {
				return
			}
			fmt.Println(v)
		}
	})
	coro.Wait()

	// Output:
	// 1
	// 2
	// 3
}
