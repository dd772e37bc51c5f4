package main

import (
	"fmt"

	"github.com/Swind/go-coro/config"
	"github.com/Swind/go-coro/core"
	promexp "github.com/Swind/go-coro/observability/prometheus"
	"github.com/Swind/go-coro/pipeline"
	"github.com/Swind/go-coro/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do"
	"github.com/urfave/cli/v2"
)

// flagOverrides are the global flags that patch the loaded config.
type flagOverrides struct {
	configPath  string
	threads     int
	tracePath   string
	metricsAddr string
	verbose     bool
}

func overridesFrom(c *cli.Context) flagOverrides {
	return flagOverrides{
		configPath:  c.String("config"),
		threads:     c.Int("threads"),
		tracePath:   c.String("trace"),
		metricsAddr: c.String("metrics-addr"),
		verbose:     c.Bool("verbose"),
	}
}

// newInjector registers every component of a run. Nothing is built until
// first invoked.
func newInjector(o flagOverrides) *do.Injector {
	i := do.New()
	do.ProvideValue(i, o)
	do.Provide(i, provideConfig)
	do.Provide(i, provideLogger)
	do.Provide(i, provideRegistry)
	do.Provide(i, provideExporter)
	do.Provide(i, provideTracer)
	do.Provide(i, provideScheduler)
	do.Provide(i, provideHarness)
	do.Provide(i, providePipeline)
	return i
}

func provideConfig(i *do.Injector) (*config.Config, error) {
	o := do.MustInvoke[flagOverrides](i)
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.threads > 0 {
		cfg.Scheduler.Threads = o.threads
	}
	if o.tracePath != "" {
		cfg.Trace.Path = o.tracePath
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	return cfg, cfg.Validate()
}

func provideLogger(i *do.Injector) (core.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	o := do.MustInvoke[flagOverrides](i)
	logger := core.NewDefaultLogger(cfg.Scheduler.Name)
	logger.Verbose = o.verbose
	return logger, nil
}

func provideRegistry(i *do.Injector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, nil
}

func provideExporter(i *do.Injector) (*promexp.MetricsExporter, error) {
	cfg := do.MustInvoke[*config.Config](i)
	reg := do.MustInvoke[*prometheus.Registry](i)
	return promexp.NewMetricsExporter(cfg.Metrics.Namespace, reg, promexp.ExporterOptions{})
}

func provideTracer(i *do.Injector) (core.Tracer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.Trace.Path == "" {
		return core.NopTracer{}, nil
	}
	r, err := trace.Create(cfg.Trace.Path, trace.Options{FlushInterval: cfg.Trace.FlushInterval.Std()})
	if err != nil {
		return nil, fmt.Errorf("failed to start trace recorder: %w", err)
	}
	return r, nil
}

func provideScheduler(i *do.Injector) (*core.Scheduler, error) {
	cfg := do.MustInvoke[*config.Config](i)
	sc := cfg.SchedulerConfig()
	sc.Logger = do.MustInvoke[core.Logger](i)
	sc.Metrics = do.MustInvoke[*promexp.MetricsExporter](i)
	sc.Tracer = do.MustInvoke[core.Tracer](i)
	return core.NewSchedulerWithConfig(sc), nil
}

func provideHarness(i *do.Injector) (*harness, error) {
	cfg := do.MustInvoke[*config.Config](i)
	reg := do.MustInvoke[*prometheus.Registry](i)
	poller, err := promexp.NewSnapshotPoller(cfg.Metrics.Namespace, reg, cfg.Metrics.PollInterval.Std())
	if err != nil {
		return nil, err
	}
	return newHarness(harnessDeps{
		Scheduler: do.MustInvoke[*core.Scheduler](i),
		Tracer:    do.MustInvoke[core.Tracer](i),
		Logger:    do.MustInvoke[core.Logger](i),
		Registry:  reg,
		Poller:    poller,
		Addr:      cfg.Metrics.Addr,
	}), nil
}

func providePipeline(i *do.Injector) (*pipeline.Pipeline, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return pipeline.New(pipeline.Options{
		Buffers:    cfg.Pipeline.Buffers,
		BufferSize: cfg.Pipeline.BufferSize,
		Logger:     do.MustInvoke[core.Logger](i),
	}), nil
}
