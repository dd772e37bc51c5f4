package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"
)

// CoroutineID identifies a coroutine within its scheduler.
type CoroutineID uint32

// State is the scheduling state of a coroutine.
type State int32

const (
	// StateReady: queued on a processor or the global queue.
	StateReady State = iota
	// StateRunning: a processor is executing the body.
	StateRunning
	// StateBlocked: parked on a channel wait-list.
	StateBlocked
	// StateFinished: the body returned or panicked.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Coroutine is a cooperatively scheduled task with its own stack.
//
// A coroutine is owned by exactly one queue at a time: a processor's
// local queue, the scheduler's global queue, or a channel wait-list.
type Coroutine struct {
	id    CoroutineID
	name  string
	sched *Scheduler
	body  Task
	ctx   context.Context
	stack Stack

	state atomic.Int32
	// inFlight is set for the whole duration of a resume. A coroutine can
	// be re-queued by a waker before it has finished switching out; the
	// next processor waits on this flag.
	inFlight atomic.Bool

	mu         sync.Mutex
	checkpoint string

	// proc is written by the resuming processor before the hand-off and
	// cleared after it; the body reads it only while running.
	proc *Processor
	// blockedOn is the processor this coroutine stepped aside from in Block.
	blockedOn *Processor

	panicValue any
	panicStack []byte

	spawnedAt time.Time
	resumes   int
}

func newCoroutine(s *Scheduler, id CoroutineID, name string, body Task) *Coroutine {
	co := &Coroutine{
		id:        id,
		name:      name,
		sched:     s,
		body:      body,
		spawnedAt: time.Now(),
	}
	co.ctx = withCoroutine(s.baseContext(), co)
	co.stack = s.cfg.Stacks.NewStack(s.cfg.StackSize, co.main)
	co.state.Store(int32(StateReady))
	return co
}

// ID returns the coroutine's identifier.
func (co *Coroutine) ID() CoroutineID { return co.id }

// Name returns the display name given at spawn.
func (co *Coroutine) Name() string { return co.name }

// State returns the current scheduling state.
func (co *Coroutine) State() State { return State(co.state.Load()) }

// Checkpoint returns the label recorded by the last SetCheckpoint.
func (co *Coroutine) Checkpoint() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.checkpoint
}

// SetCheckpoint records where the coroutine is about to wait, for dumps.
func (co *Coroutine) SetCheckpoint(label string) {
	co.mu.Lock()
	co.checkpoint = label
	co.mu.Unlock()
}

func (co *Coroutine) String() string {
	return fmt.Sprintf("coroutine %d %q", co.id, co.name)
}

// transition moves the state from -> to and panics on any other state;
// a mismatch means the coroutine is owned by two queues.
func (co *Coroutine) transition(from, to State) {
	if !co.state.CompareAndSwap(int32(from), int32(to)) {
		panic(fmt.Sprintf("%s: invalid state transition %s -> %s (state is %s)",
			co, from, to, co.State()))
	}
}

func (co *Coroutine) main() {
	defer func() {
		if r := recover(); r != nil {
			co.panicValue = r
			co.panicStack = debug.Stack()
		}
	}()
	co.body(co.ctx)
}

// acquire waits until the processor that last ran co has released it. A
// coroutine requeued from Unblock or a wait-list can be popped before its
// old processor returns from Resume.
func (co *Coroutine) acquire() {
	var bo iox.Backoff
	for !co.inFlight.CompareAndSwap(false, true) {
		bo.Wait()
	}
}

// run resumes the acquired coroutine on p and returns once it suspends or
// finishes. It reports whether the coroutine finished.
func (co *Coroutine) run(p *Processor) bool {
	co.transition(StateReady, StateRunning)
	co.proc = p
	co.resumes++

	alive := co.stack.Resume()

	co.proc = nil
	if !alive {
		co.state.Store(int32(StateFinished))
	}
	return !alive
}

func (co *Coroutine) release() { co.inFlight.Store(false) }

// suspend parks the running coroutine. The caller has already made it
// reachable by a waker (wait-list or queue) and set its state.
func (co *Coroutine) suspend() {
	if p := co.proc; p != nil && p.blocked.Load() {
		panic(fmt.Sprintf("%s: suspended while processor %d is blocked at %q",
			co, p.id, co.Checkpoint()))
	}
	co.stack.Suspend()
}

// park marks the running coroutine Blocked. Call it while holding the lock
// that guards the wait-list the coroutine is added to.
func (co *Coroutine) park(checkpoint string) {
	co.SetCheckpoint(checkpoint)
	co.transition(StateRunning, StateBlocked)
}

// Yield requeues the calling coroutine at the tail of its processor's
// queue and suspends it. Outside a coroutine it does nothing.
func Yield(ctx context.Context) {
	co := CurrentCoroutine(ctx)
	if co == nil {
		return
	}
	co.transition(StateRunning, StateReady)
	if p := co.proc; p == nil || !p.queue.Push(co) {
		co.sched.pushGlobal(co)
	}
	co.suspend()
}
