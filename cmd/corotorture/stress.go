package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Swind/go-coro/core"
	"github.com/samber/do"
	"github.com/urfave/cli/v2"
)

func StressCommand() *cli.Command {
	return &cli.Command{
		Name:    "stress",
		Aliases: []string{"s"},
		Usage:   "Run producer/consumer pairs over small channels",

		Flags: []cli.Flag{
			&cli.IntFlag{Name: "pairs", Value: 64, Usage: "Producer/consumer pairs"},
			&cli.IntFlag{Name: "messages", Value: 10000, Usage: "Messages per pair"},
			&cli.IntFlag{Name: "capacity", Value: 4, Usage: "Channel capacity"},
			&cli.IntFlag{Name: "yield-every", Value: 16, Usage: "Producer yields every N messages (0 disables)"},
			&cli.IntFlag{Name: "block-every", Value: 1000, Usage: "Producer makes a blocking call every N messages (0 disables)"},
			&cli.DurationFlag{Name: "block-for", Value: 100 * time.Microsecond, Usage: "Length of each blocking call"},
		},

		Action: stressAction,
	}
}

type stressOptions struct {
	Pairs      int
	Messages   int
	Capacity   int
	YieldEvery int
	BlockEvery int
	BlockFor   time.Duration
}

type stressResult struct {
	Delivered  int64
	Mismatched int64
	Elapsed    time.Duration
}

func stressAction(c *cli.Context) error {
	// 1. Get flags
	opts := stressOptions{
		Pairs:      c.Int("pairs"),
		Messages:   c.Int("messages"),
		Capacity:   c.Int("capacity"),
		YieldEvery: c.Int("yield-every"),
		BlockEvery: c.Int("block-every"),
		BlockFor:   c.Duration("block-for"),
	}

	// 2. Validate (format only)
	if opts.Pairs < 1 || opts.Messages < 1 || opts.Capacity < 1 {
		return cli.Exit("pairs, messages and capacity must be positive", 1)
	}

	// 3. Call service
	injector := newInjector(overridesFrom(c))
	defer injector.Shutdown()

	h, err := do.Invoke[*harness](injector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	sched := do.MustInvoke[*core.Scheduler](injector)
	if err := h.Start(c.Context); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	res, err := runStress(c.Context, sched, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Interrupted: %v", err), 1)
	}

	// 4. Format output
	st := sched.Stats()
	rate := float64(res.Delivered) / res.Elapsed.Seconds()
	fmt.Printf("✓ Delivered %d messages in %v (%.0f msg/s), steals=%d retired=%d\n",
		res.Delivered, res.Elapsed.Round(time.Millisecond), rate, st.Steals, st.Retired)
	if res.Mismatched > 0 {
		return cli.Exit(fmt.Sprintf("Failed: %d consumers saw a wrong checksum", res.Mismatched), 1)
	}
	return nil
}

// runStress spawns the pairs on s and waits for them. Each consumer checks
// that it received 0..Messages-1 in order.
func runStress(ctx context.Context, s *core.Scheduler, opts stressOptions) (stressResult, error) {
	var delivered, mismatched atomic.Int64
	start := time.Now()

	for i := range opts.Pairs {
		r, w := core.MakeChannel[int](opts.Capacity, fmt.Sprintf("pair-%d", i))

		s.Spawn(fmt.Sprintf("producer-%d", i), func(ctx context.Context) {
			defer w.Close()
			for m := range opts.Messages {
				if w.Put(ctx, m) != nil {
					return
				}
				if opts.YieldEvery > 0 && m%opts.YieldEvery == 0 {
					core.Yield(ctx)
				}
				if opts.BlockEvery > 0 && m%opts.BlockEvery == 0 {
					core.BlockingCall(ctx, "sleep", func() (struct{}, error) {
						time.Sleep(opts.BlockFor)
						return struct{}{}, nil
					})
				}
			}
		})

		s.Spawn(fmt.Sprintf("consumer-%d", i), func(ctx context.Context) {
			next := 0
			for {
				v, err := r.Get(ctx)
				if err != nil {
					break
				}
				if v != next {
					mismatched.Add(1)
					r.Close()
					return
				}
				next++
				delivered.Add(1)
			}
			if next != opts.Messages {
				mismatched.Add(1)
			}
		})
	}

	if err := s.WaitContext(ctx); err != nil {
		return stressResult{}, err
	}
	return stressResult{
		Delivered:  delivered.Load(),
		Mismatched: mismatched.Load(),
		Elapsed:    time.Since(start),
	}, nil
}
