package trace

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Swind/go-coro/core"
)

// syncBuffer lets the test read what the recorder goroutine wrote.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// TestRecorder_OrdersAndEncodes verifies manual recording
// Given: A recorder and events from two processors and from outside any processor
// When: The recorder is closed
// Then: The stream has a header and all events sorted by timestamp
func TestRecorder_OrdersAndEncodes(t *testing.T) {
	// Arrange
	var buf syncBuffer
	r, err := NewRecorder(&buf, Options{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	// Act
	r.Record(core.TraceEvent{Kind: core.TraceCoroutineEnter, CoroutineID: 1, ProcessorID: 0, Nanos: 30})
	r.Record(core.TraceEvent{Kind: core.TraceCoroutineCreated, CoroutineID: 1, Name: "a", ProcessorID: core.NoProcessor, Nanos: 10})
	r.Record(core.TraceEvent{Kind: core.TraceProcessorBlocked, ProcessorID: 1, Checkpoint: "read", Nanos: 20})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Assert
	h, events, err := ReadAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if h.Session != r.Session().String() {
		t.Errorf("header session = %q, want %q", h.Session, r.Session())
	}
	want := []string{"coroutine_created", "processor_blocked", "coroutine_enter"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Errorf("events[%d].Kind = %q, want %q", i, events[i].Kind, kind)
		}
	}
	if events[1].Checkpoint != "read" {
		t.Errorf("checkpoint = %q, want read", events[1].Checkpoint)
	}
}

// TestRecorder_SchedulerLifecycle verifies the scheduler call sites
// Given: A scheduler wired to a recorder
// When: Ten coroutines run to completion
// Then: Each has created, enter, exit and finished events
func TestRecorder_SchedulerLifecycle(t *testing.T) {
	// Arrange
	var buf syncBuffer
	r, err := NewRecorder(&buf, Options{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	s := core.NewSchedulerWithConfig(&core.SchedulerConfig{
		Concurrency: 2,
		Tracer:      r,
		Logger:      core.NewNoOpLogger(),
	})

	// Act
	s.Start(context.Background())
	for range 10 {
		s.Spawn("traced", func(ctx context.Context) {})
	}
	s.Wait()
	s.Shutdown()
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Assert
	_, events, err := ReadAll(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Kind]++
	}
	for _, kind := range []string{"coroutine_created", "coroutine_enter", "coroutine_exit", "coroutine_finished"} {
		if counts[kind] != 10 {
			t.Errorf("%s events = %d, want 10", kind, counts[kind])
		}
	}
	if counts["processor_started"] != 2 || counts["processor_stopped"] != 2 {
		t.Errorf("processor started/stopped = %d/%d, want 2/2",
			counts["processor_started"], counts["processor_stopped"])
	}
	if r.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", r.Dropped())
	}
}

// TestReadAll_NoHeader verifies the empty-stream error
func TestReadAll_NoHeader(t *testing.T) {
	if _, _, err := ReadAll(bytes.NewReader(nil)); !errors.Is(err, ErrNoHeader) {
		t.Errorf("ReadAll(empty) error = %v, want ErrNoHeader", err)
	}
}
