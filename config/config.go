// Package config loads the runtime configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Swind/go-coro/core"
	"github.com/pelletier/go-toml/v2"
)

// Config is the root of a coro TOML file.
type Config struct {
	Scheduler SchedulerSection `toml:"scheduler"`
	Pipeline  PipelineSection  `toml:"pipeline"`
	Trace     TraceSection     `toml:"trace"`
	Metrics   MetricsSection   `toml:"metrics"`
}

// SchedulerSection configures the scheduler.
type SchedulerSection struct {
	Name      string `toml:"name"`
	Threads   int    `toml:"threads"`
	StackSize int    `toml:"stack_size"`
	History   int    `toml:"history"`
}

// PipelineSection configures the decompression pipeline.
type PipelineSection struct {
	Buffers    int `toml:"buffers"`     // buffers in flight per file
	BufferSize int `toml:"buffer_size"` // bytes per buffer
}

// TraceSection configures the trace recorder. An empty path disables it.
type TraceSection struct {
	Path          string   `toml:"path"`
	FlushInterval Duration `toml:"flush_interval"`
}

// MetricsSection configures the Prometheus endpoint. An empty addr disables it.
type MetricsSection struct {
	Addr         string   `toml:"addr"`
	Namespace    string   `toml:"namespace"`
	PollInterval Duration `toml:"poll_interval"`
}

// Duration is a time.Duration written as a string ("250ms", "1s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerSection{
			Name:    "coro",
			Threads: 4,
			History: 100,
		},
		Pipeline: PipelineSection{
			Buffers:    8,
			BufferSize: 100 * 1024,
		},
		Trace: TraceSection{
			FlushInterval: Duration(100 * time.Millisecond),
		},
		Metrics: MetricsSection{
			Namespace:    "coro",
			PollInterval: Duration(time.Second),
		},
	}
}

// Load reads path on top of Default. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	switch {
	case c.Scheduler.Threads < 1:
		return fmt.Errorf("scheduler.threads must be >= 1, got %d", c.Scheduler.Threads)
	case c.Scheduler.StackSize < 0:
		return fmt.Errorf("scheduler.stack_size must be >= 0, got %d", c.Scheduler.StackSize)
	case c.Scheduler.History < 0:
		return fmt.Errorf("scheduler.history must be >= 0, got %d", c.Scheduler.History)
	case c.Pipeline.Buffers < 1:
		return fmt.Errorf("pipeline.buffers must be >= 1, got %d", c.Pipeline.Buffers)
	case c.Pipeline.BufferSize < 1:
		return fmt.Errorf("pipeline.buffer_size must be >= 1, got %d", c.Pipeline.BufferSize)
	case c.Trace.FlushInterval < 0:
		return fmt.Errorf("trace.flush_interval must not be negative")
	case c.Metrics.PollInterval < 0:
		return fmt.Errorf("metrics.poll_interval must not be negative")
	}
	return nil
}

// SchedulerConfig maps the [scheduler] section onto a core.SchedulerConfig.
// Handlers, metrics and tracer are left for the caller to set.
func (c *Config) SchedulerConfig() *core.SchedulerConfig {
	cfg := core.DefaultSchedulerConfig()
	if c.Scheduler.Name != "" {
		cfg.Name = c.Scheduler.Name
	}
	cfg.Concurrency = c.Scheduler.Threads
	cfg.StackSize = c.Scheduler.StackSize
	cfg.HistoryCapacity = c.Scheduler.History
	return cfg
}
