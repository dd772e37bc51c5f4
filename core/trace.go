package core

// TraceEventKind identifies a trace event.
type TraceEventKind uint8

const (
	TraceCoroutineCreated TraceEventKind = iota + 1
	TraceCoroutineEnter
	TraceCoroutineExit
	TraceCoroutineFinished
	TraceProcessorStarted
	TraceProcessorStopped
	TraceProcessorBlocked
	TraceProcessorUnblocked
)

var traceKindNames = [...]string{
	TraceCoroutineCreated:   "coroutine_created",
	TraceCoroutineEnter:     "coroutine_enter",
	TraceCoroutineExit:      "coroutine_exit",
	TraceCoroutineFinished:  "coroutine_finished",
	TraceProcessorStarted:   "processor_started",
	TraceProcessorStopped:   "processor_stopped",
	TraceProcessorBlocked:   "processor_blocked",
	TraceProcessorUnblocked: "processor_unblocked",
}

func (k TraceEventKind) String() string {
	if int(k) < len(traceKindNames) && traceKindNames[k] != "" {
		return traceKindNames[k]
	}
	return "unknown"
}

// NoProcessor is the ProcessorID of events raised outside any processor,
// for example a spawn from bootstrap code.
const NoProcessor = -1

// TraceEvent is one entry of the execution trace.
type TraceEvent struct {
	Kind        TraceEventKind
	CoroutineID CoroutineID
	Name        string
	ProcessorID int
	Checkpoint  string
	// Nanos is monotonic time since the scheduler was created.
	Nanos int64
}

// Tracer receives trace events.
//
// Events raised for the same ProcessorID never overlap in time, so a
// tracer may keep a single-producer buffer per processor. Events with
// ProcessorID NoProcessor can come from any goroutine.
type Tracer interface {
	Record(ev TraceEvent)
}

// NopTracer discards every event.
type NopTracer struct{}

func (NopTracer) Record(TraceEvent) {}
