package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Swind/go-coro/core"
	"github.com/Swind/go-coro/pipeline"
	"github.com/samber/do"
	"github.com/urfave/cli/v2"
)

func DecompressCommand() *cli.Command {
	return &cli.Command{
		Name:    "decompress",
		Aliases: []string{"d"},
		Usage:   "Decompress every .xz file of a directory in parallel",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "in",
				Aliases:  []string{"i"},
				Required: true,
				Usage:    "Directory with .xz files",
			},
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Required: true,
				Usage:    "Output directory",
			},
		},

		Action: decompressAction,
	}
}

func decompressAction(c *cli.Context) error {
	// 1. Get flags
	in, out := c.String("in"), c.String("out")

	// 2. Validate (format only)
	if info, err := os.Stat(in); err != nil || !info.IsDir() {
		return cli.Exit(fmt.Sprintf("input %q is not a directory", in), 1)
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	// 3. Call service
	injector := newInjector(overridesFrom(c))
	defer injector.Shutdown()

	h, err := do.Invoke[*harness](injector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	p := do.MustInvoke[*pipeline.Pipeline](injector)
	sched := do.MustInvoke[*core.Scheduler](injector)
	if err := h.Start(c.Context); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	start := time.Now()
	n, err := p.ProcessDir(sched, in, out)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	if err := sched.WaitContext(c.Context); err != nil {
		return cli.Exit(fmt.Sprintf("Interrupted: %v", err), 1)
	}
	elapsed := time.Since(start)

	// 4. Format output
	st := p.Stats()
	fmt.Printf("✓ Decompressed %d files: %d -> %d bytes in %v\n", n, st.BytesIn, st.BytesOut, elapsed.Round(time.Millisecond))
	if err := p.Err(); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	return nil
}
