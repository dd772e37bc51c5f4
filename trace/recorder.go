// Package trace records scheduler trace events and streams them as JSON
// lines for offline viewers.
package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/Swind/go-coro/core"
	"github.com/google/uuid"
)

const (
	defaultRingCapacity  = 4096
	defaultFlushInterval = 100 * time.Millisecond
)

// Header is the first line of every trace stream.
type Header struct {
	Session string    `json:"session"`
	Started time.Time `json:"started"`
}

// Event is one JSON line of a trace stream.
type Event struct {
	Kind       string `json:"kind"`
	Coroutine  uint32 `json:"coroutine,omitempty"`
	Name       string `json:"name,omitempty"`
	Processor  int    `json:"processor"`
	Checkpoint string `json:"checkpoint,omitempty"`
	Nanos      int64  `json:"ns"`
}

func newEvent(ev core.TraceEvent) Event {
	return Event{
		Kind:       ev.Kind.String(),
		Coroutine:  uint32(ev.CoroutineID),
		Name:       ev.Name,
		Processor:  ev.ProcessorID,
		Checkpoint: ev.Checkpoint,
		Nanos:      ev.Nanos,
	}
}

// Options configures a Recorder.
type Options struct {
	// FlushInterval is how often rings are drained to the writer.
	FlushInterval time.Duration
	// RingCapacity bounds the events buffered per processor between
	// flushes. Events beyond it are dropped and counted.
	RingCapacity int
}

type ring struct {
	q lfq.SPSC[core.TraceEvent]
}

// Recorder implements core.Tracer. Each processor gets its own lock-free
// single-producer ring; events raised outside any processor share a
// mutex-guarded slice. A background goroutine drains everything to the
// writer in timestamp order.
type Recorder struct {
	session  uuid.UUID
	interval time.Duration
	ringCap  int

	rings sync.Map // processor id -> *ring

	sharedMu sync.Mutex
	shared   []core.TraceEvent

	dropped atomix.Uint32

	out    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	err    error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRecorder starts a recorder writing to w.
func NewRecorder(w io.Writer, opts Options) (*Recorder, error) {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.RingCapacity <= 0 {
		opts.RingCapacity = defaultRingCapacity
	}

	out := bufio.NewWriter(w)
	r := &Recorder{
		session:  uuid.New(),
		interval: opts.FlushInterval,
		ringCap:  opts.RingCapacity,
		out:      out,
		enc:      json.NewEncoder(out),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := r.enc.Encode(Header{Session: r.session.String(), Started: time.Now()}); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}

	go r.loop()
	return r, nil
}

// Create opens path for writing and starts a recorder on it.
func Create(path string, opts Options) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	r, err := NewRecorder(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Session returns the id written in the stream header.
func (r *Recorder) Session() uuid.UUID { return r.session }

// Dropped returns the number of events lost to full rings.
func (r *Recorder) Dropped() uint32 { return r.dropped.Load() }

// Record implements core.Tracer.
func (r *Recorder) Record(ev core.TraceEvent) {
	if ev.ProcessorID == core.NoProcessor {
		r.sharedMu.Lock()
		r.shared = append(r.shared, ev)
		r.sharedMu.Unlock()
		return
	}
	if err := r.ringFor(ev.ProcessorID).q.Enqueue(&ev); err != nil {
		r.dropped.Add(1)
	}
}

func (r *Recorder) ringFor(processorID int) *ring {
	if v, ok := r.rings.Load(processorID); ok {
		return v.(*ring)
	}
	rg := &ring{}
	rg.q.Init(r.ringCap)
	v, _ := r.rings.LoadOrStore(processorID, rg)
	return v.(*ring)
}

func (r *Recorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

// flush drains every ring and the shared slice. Only the loop goroutine
// calls it, so it is the single consumer of every ring.
func (r *Recorder) flush() {
	var batch []core.TraceEvent
	r.rings.Range(func(_, v any) bool {
		rg := v.(*ring)
		for {
			ev, err := rg.q.Dequeue()
			if err != nil {
				if !iox.IsWouldBlock(err) {
					r.setErr(err)
				}
				break
			}
			batch = append(batch, ev)
		}
		return true
	})

	r.sharedMu.Lock()
	batch = append(batch, r.shared...)
	r.shared = r.shared[:0]
	r.sharedMu.Unlock()

	if len(batch) == 0 {
		return
	}
	slices.SortStableFunc(batch, func(a, b core.TraceEvent) int {
		switch {
		case a.Nanos < b.Nanos:
			return -1
		case a.Nanos > b.Nanos:
			return 1
		}
		return 0
	})
	for _, ev := range batch {
		if err := r.enc.Encode(newEvent(ev)); err != nil {
			r.setErr(err)
			return
		}
	}
	if err := r.out.Flush(); err != nil {
		r.setErr(err)
	}
}

func (r *Recorder) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Close drains pending events, flushes, and closes the file opened by
// Create. It returns the first write error seen.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
		if r.closer != nil {
			if err := r.closer.Close(); err != nil {
				r.setErr(err)
			}
		}
	})
	return r.err
}

// ErrNoHeader is returned by ReadAll for a stream without a header line.
var ErrNoHeader = errors.New("trace: missing header")

// ReadAll decodes a stream written by a Recorder.
func ReadAll(rd io.Reader) (Header, []Event, error) {
	dec := json.NewDecoder(rd)
	var h Header
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return h, nil, ErrNoHeader
		}
		return h, nil, fmt.Errorf("decode trace header: %w", err)
	}
	if h.Session == "" {
		return h, nil, ErrNoHeader
	}

	var events []Event
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return h, events, nil
		}
		if err != nil {
			return h, events, fmt.Errorf("decode trace event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
}
