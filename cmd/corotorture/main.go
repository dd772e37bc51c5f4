// Command corotorture drives the coroutine runtime with real workloads:
// parallel xz decompression of a directory and a channel stress test.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "corotorture",
		Usage: "exercise the coroutine scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "coro.toml",
				Usage:   "TOML configuration file (missing file means defaults)",
			},
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"t"},
				Usage:   "override [scheduler] threads",
			},
			&cli.StringFlag{
				Name:  "trace",
				Usage: "override [trace] path",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "override [metrics] addr, e.g. :9090",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug messages",
			},
		},
		Commands: []*cli.Command{
			DecompressCommand(),
			StressCommand(),
		},
	}
}
