package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessorState is the state of a processor's scheduling loop.
type ProcessorState int32

const (
	ProcessorRunning ProcessorState = iota
	ProcessorIdle
	ProcessorBlocked
	ProcessorStopped
)

func (s ProcessorState) String() string {
	switch s {
	case ProcessorRunning:
		return "running"
	case ProcessorIdle:
		return "idle"
	case ProcessorBlocked:
		return "blocked"
	case ProcessorStopped:
		return "stopped"
	default:
		return fmt.Sprintf("processor_state(%d)", int32(s))
	}
}

// UnblockResult tells a coroutine what happened to its processor when it
// returned from a foreign blocking call.
type UnblockResult int

const (
	// Resumed: the processor is back in the pool and the coroutine keeps
	// running on it.
	Resumed UnblockResult = iota
	// Retired: a stand-in already took the processor's place. The
	// processor exits and the coroutine was moved to another one; the
	// caller must not use the old processor handle again.
	Retired
)

func (r UnblockResult) String() string {
	if r == Retired {
		return "retired"
	}
	return "resumed"
}

// Processor owns one goroutine and one LocalQueue, and runs the
// scheduling loop: pop local work, else steal from siblings, else drain
// the global queue, else park until woken.
type Processor struct {
	id    int
	sched *Scheduler
	queue *LocalQueue

	wakeup   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	state    atomic.Int32
	blocked  atomic.Bool
	current  atomic.Pointer[Coroutine]
	executed atomic.Uint64
}

func newProcessor(s *Scheduler, id int) *Processor {
	return &Processor{
		id:     id,
		sched:  s,
		queue:  NewLocalQueue(),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// ID returns the processor's identifier.
func (p *Processor) ID() int { return p.id }

// State returns the loop state.
func (p *Processor) State() ProcessorState { return ProcessorState(p.state.Load()) }

// QueueLen returns the local queue depth.
func (p *Processor) QueueLen() int { return p.queue.Len() }

func (p *Processor) start() {
	go p.loop()
}

// enqueue pushes co and wakes the processor. It fails while blocked.
func (p *Processor) enqueue(co *Coroutine) bool {
	if !p.queue.Push(co) {
		return false
	}
	p.wake()
	return true
}

func (p *Processor) requeue(cos []*Coroutine) {
	if len(cos) == 0 {
		return
	}
	if !p.queue.PushMany(cos) {
		p.sched.pushGlobal(cos...)
	}
}

func (p *Processor) wake() {
	select {
	case p.wakeup <- struct{}{}:
	default:
	}
}

// stop signals the loop to exit once it runs out of work.
func (p *Processor) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Processor) loop() {
	s := p.sched
	defer s.processorExited(p)

	s.trace(TraceProcessorStarted, nil, p.id, "")
	s.cfg.Logger.Debug("processor started", F("processor", p.id))

	for {
		if co, ok := p.queue.Pop(); ok {
			p.execute(co)
			if p.blocked.Load() {
				// The coroutine handed this processor to a foreign call
				// and moved on; the queue belongs to the scheduler now.
				return
			}
			p.requeue(s.takeGlobal())
			continue
		}

		if stolen := s.steal(p); len(stolen) > 0 {
			p.requeue(stolen)
			continue
		}
		if globals := s.takeGlobal(); len(globals) > 0 {
			p.requeue(globals)
			continue
		}

		switch s.processorIdle(p) {
		case idleRetry:
			continue
		case idleRetire:
			return
		}

		select {
		case <-p.wakeup:
			s.processorWoken(p)
		case <-p.stopCh:
			s.processorWoken(p)
			if p.queue.IsEmpty() && s.global.len() == 0 {
				return
			}
		}
	}
}

func (p *Processor) execute(co *Coroutine) {
	s := p.sched
	co.acquire()
	p.current.Store(co)
	s.trace(TraceCoroutineEnter, co, p.id, "")

	start := time.Now()
	finished := co.run(p)
	s.cfg.Metrics.RecordCoroutineRun(s.cfg.Name, time.Since(start))

	s.trace(TraceCoroutineExit, co, p.id, co.Checkpoint())
	p.current.Store(nil)
	co.release()
	p.executed.Add(1)

	if finished {
		s.coroutineFinished(co, p)
	}
	s.cfg.Metrics.RecordQueueDepth(s.cfg.Name, p.id, p.queue.Len())
}

// =============================================================================
// Blocking hand-off
// =============================================================================

// Block steps the calling coroutine's processor aside before a foreign
// blocking call (file I/O, cgo, a syscall). The processor's ready queue is
// handed to the scheduler, which starts a stand-in processor if the pool
// would drop below its target.
//
// Between Block and Unblock the coroutine must not suspend on a channel.
// Outside a coroutine Block does nothing.
func Block(ctx context.Context, checkpoint string) {
	co := CurrentCoroutine(ctx)
	if co == nil {
		return
	}
	p := co.proc
	if p == nil {
		panic(fmt.Sprintf("%s: block at %q while not running", co, checkpoint))
	}
	if co.blockedOn != nil {
		panic(fmt.Sprintf("%s: block at %q while already blocked", co, checkpoint))
	}

	co.SetCheckpoint(checkpoint)
	leftovers := p.queue.CloseAndDrain()
	p.blocked.Store(true)
	p.state.Store(int32(ProcessorBlocked))
	co.blockedOn = p

	p.sched.processorBlocked(p, leftovers, checkpoint)
}

// Unblock ends a foreign blocking call started with Block.
//
// On Retired the coroutine has already been suspended and resumed on a
// different processor by the time Unblock returns.
func Unblock(ctx context.Context, checkpoint string) UnblockResult {
	co := CurrentCoroutine(ctx)
	if co == nil {
		return Resumed
	}
	p := co.blockedOn
	if p == nil || !p.blocked.Load() {
		panic(fmt.Sprintf("%s: unblock at %q without a matching block", co, checkpoint))
	}
	co.blockedOn = nil

	result := p.sched.processorUnblocked(p, checkpoint)
	if result == Resumed {
		p.queue.Reopen()
		p.blocked.Store(false)
		p.state.Store(int32(ProcessorRunning))
		return Resumed
	}

	co.transition(StateRunning, StateReady)
	co.sched.pushGlobal(co)
	co.stack.Suspend()
	return Retired
}

// BlockingCall runs fn between Block and Unblock.
func BlockingCall[T any](ctx context.Context, checkpoint string, fn func() (T, error)) (T, error) {
	Block(ctx, checkpoint)
	defer Unblock(ctx, checkpoint)
	return fn()
}
