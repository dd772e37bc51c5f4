package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/Swind/go-coro"
	"github.com/Swind/go-coro/core"
	promexp "github.com/Swind/go-coro/observability/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type harnessDeps struct {
	Scheduler *core.Scheduler
	Tracer    core.Tracer
	Logger    core.Logger
	Registry  *prometheus.Registry
	Poller    *promexp.SnapshotPoller
	Addr      string
	DumpTo    io.Writer
}

// harness owns the scheduler's process-level surroundings: the current
// scheduler registration, the SIGINT dump, the metrics endpoint and the
// trace file. The injector calls Shutdown on exit.
type harness struct {
	harnessDeps

	server   *http.Server
	listener net.Listener
	sigCh    chan os.Signal
	sigDone  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func newHarness(deps harnessDeps) *harness {
	if deps.DumpTo == nil {
		deps.DumpTo = os.Stderr
	}
	return &harness{harnessDeps: deps}
}

// Start launches the scheduler and its surroundings.
func (h *harness) Start(ctx context.Context) error {
	var err error
	h.startOnce.Do(func() {
		if h.Addr != "" {
			h.listener, err = net.Listen("tcp", h.Addr)
			if err != nil {
				return
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{}))
			h.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := h.server.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					h.Logger.Error("metrics server stopped", core.F("error", err))
				}
			}()
			h.Logger.Info("serving metrics", core.F("addr", h.listener.Addr().String()))
		}

		h.Scheduler.Start(ctx)
		coro.SetScheduler(h.Scheduler)
		h.Poller.AddScheduler(h.Scheduler.Name(), h.Scheduler)
		h.Poller.Start(ctx)

		h.sigCh = make(chan os.Signal, 1)
		h.sigDone = make(chan struct{})
		signal.Notify(h.sigCh, os.Interrupt)
		go h.dumpOnInterrupt()
	})
	return err
}

func (h *harness) dumpOnInterrupt() {
	defer close(h.sigDone)
	for range h.sigCh {
		if err := coro.DebugDump(h.DumpTo); err != nil {
			h.Logger.Warn("debug dump failed", core.F("error", err))
		}
	}
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (h *harness) MetricsAddr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Shutdown implements do.Shutdownable.
func (h *harness) Shutdown() error {
	var errs []error
	h.stopOnce.Do(func() {
		if h.sigCh != nil {
			signal.Stop(h.sigCh)
			close(h.sigCh)
			<-h.sigDone
		}
		h.Poller.Stop()
		h.Scheduler.Shutdown()
		if coro.CurrentScheduler() == h.Scheduler {
			coro.ClearScheduler()
		}
		if h.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs = append(errs, h.server.Shutdown(ctx))
		}
		if c, ok := h.Tracer.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
