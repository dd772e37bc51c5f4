package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoad_OverridesDefaults verifies partial files keep unspecified defaults
// Given: A TOML file setting only some keys
// When: Load reads it
// Then: The given keys are applied and the rest keep their defaults
func TestLoad_OverridesDefaults(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "coro.toml")
	data := `
[scheduler]
name = "torture"
threads = 8

[trace]
path = "trace.jsonl"
flush_interval = "250ms"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Act
	cfg, err := Load(path)

	// Assert
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Name != "torture" || cfg.Scheduler.Threads != 8 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Pipeline.Buffers != 8 || cfg.Pipeline.BufferSize != 102400 {
		t.Errorf("pipeline defaults lost: %+v", cfg.Pipeline)
	}
	if cfg.Trace.FlushInterval.Std() != 250*time.Millisecond {
		t.Errorf("flush interval = %v, want 250ms", cfg.Trace.FlushInterval.Std())
	}
	if cfg.Metrics.PollInterval.Std() != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.Metrics.PollInterval.Std())
	}
}

// TestLoad_MissingFileUsesDefaults verifies a missing file is not an error
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Threads != 4 {
		t.Errorf("threads = %d, want 4", cfg.Scheduler.Threads)
	}
}

// TestLoad_RejectsInvalid verifies validation and parse errors surface
func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"zero threads", "[scheduler]\nthreads = 0\n", "scheduler.threads"},
		{"zero buffers", "[pipeline]\nbuffers = 0\n", "pipeline.buffers"},
		{"bad duration", "[trace]\nflush_interval = \"soon\"\n", "failed to parse"},
		{"bad toml", "[scheduler\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "coro.toml")
			if err := os.WriteFile(path, []byte(tt.data), 0644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

// TestSave_Load verifies a saved file loads back to the same configuration
func TestSave_Load(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "coro.toml")
	want := Default()
	want.Scheduler.Threads = 2
	want.Metrics.Addr = ":9090"
	want.Trace.FlushInterval = Duration(2 * time.Second)

	// Act
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)

	// Assert
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `flush_interval = '2s'`) && !strings.Contains(string(raw), `flush_interval = "2s"`) {
		t.Errorf("durations should be written as strings:\n%s", raw)
	}
}

// TestSchedulerConfig_Mapping verifies the [scheduler] section mapping
func TestSchedulerConfig_Mapping(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.Name = "mapped"
	cfg.Scheduler.Threads = 3
	cfg.Scheduler.History = 7

	sc := cfg.SchedulerConfig()

	if sc.Name != "mapped" || sc.Concurrency != 3 || sc.HistoryCapacity != 7 {
		t.Errorf("SchedulerConfig = %+v", sc)
	}
	if sc.PanicHandler == nil || sc.Metrics == nil {
		t.Error("SchedulerConfig should carry default handlers")
	}
}
