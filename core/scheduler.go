package core

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"code.hybscloud.com/atomix"
)

// blockRecord is the registry entry of a processor inside a foreign call.
type blockRecord struct {
	checkpoint string
	replaced   bool
}

type idleDecision int

const (
	idlePark idleDecision = iota
	idleRetry
	idleRetire
)

// Scheduler multiplexes coroutines over a pool of processors.
//
// Concurrency is the target number of unblocked processors. A processor
// that steps aside for a foreign blocking call is replaced while it is
// blocked, so the total number of processor goroutines can exceed the
// target; surplus processors retire once they are idle or unblock.
type Scheduler struct {
	cfg   SchedulerConfig
	epoch time.Time

	mu         sync.Mutex
	ctx        context.Context
	target     int
	running    bool
	stopping   bool
	nextProcID int
	processors map[*Processor]struct{}
	active     []*Processor
	idle       map[*Processor]struct{}
	blocked    map[*Processor]blockRecord
	global     globalQueue

	// activeSnap is a copy of active for lock-free placement and stealing.
	activeSnap atomic.Pointer[[]*Processor]
	idleCount  atomic.Int32
	rr         atomic.Uint32
	wg         sync.WaitGroup

	ids        atomix.Uint32
	coroutines sync.Map // CoroutineID -> *Coroutine

	liveMu    sync.Mutex
	live      int
	quiescent chan struct{}

	spawned atomic.Uint64
	steals  atomic.Uint64
	retired atomic.Uint64

	history coroutineHistory
}

// NewScheduler creates a scheduler with the given target concurrency.
func NewScheduler(concurrency int) *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Concurrency = concurrency
	return NewSchedulerWithConfig(cfg)
}

// NewSchedulerWithConfig creates a scheduler from config. Unset fields
// take their defaults. The scheduler does not run anything until Start.
func NewSchedulerWithConfig(config *SchedulerConfig) *Scheduler {
	cfg := config.withDefaults()
	s := &Scheduler{
		cfg:        cfg,
		epoch:      time.Now(),
		ctx:        context.Background(),
		target:     cfg.Concurrency,
		processors: make(map[*Processor]struct{}),
		idle:       make(map[*Processor]struct{}),
		blocked:    make(map[*Processor]blockRecord),
		quiescent:  make(chan struct{}),
		history:    newCoroutineHistory(cfg.HistoryCapacity),
	}
	close(s.quiescent)
	empty := []*Processor{}
	s.activeSnap.Store(&empty)
	return s
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.cfg.Name }

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() Logger { return s.cfg.Logger }

// Concurrency returns the target number of unblocked processors.
func (s *Scheduler) Concurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// IsRunning reports whether Start was called and Shutdown was not.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.stopping
}

// Start launches the processors. Coroutines spawned earlier start running.
// ctx becomes the parent context of coroutines spawned afterwards.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.stopping {
		s.mu.Unlock()
		return
	}
	if ctx != nil {
		s.ctx = ctx
	}
	s.running = true
	started := make([]*Processor, 0, s.target)
	for len(s.active) < s.target {
		started = append(started, s.newProcessorLocked())
	}
	s.mu.Unlock()

	s.cfg.Logger.Info("scheduler started", F("concurrency", len(started)))
	for _, p := range started {
		p.start()
	}
}

// Shutdown stops every processor once it runs out of runnable work and
// waits for their goroutines to exit. Coroutines still parked on a
// channel are abandoned, so call Wait first for a clean stop.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.running || s.stopping {
		s.stopping = true
		s.mu.Unlock()
		return
	}
	s.stopping = true
	procs := make([]*Processor, 0, len(s.processors))
	for p := range s.processors {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		p.stop()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.cfg.Logger.Info("scheduler stopped",
		F("spawned", s.spawned.Load()),
		F("live", s.liveCount()))
}

// Spawn creates a coroutine running task and makes it ready. An empty name
// is replaced by the task's function name. Spawn may be called before
// Start, from any goroutine, or from inside a coroutine. After Shutdown it
// logs the rejection and returns nil.
func (s *Scheduler) Spawn(name string, task Task) *Coroutine {
	return s.spawn(nil, name, task)
}

func (s *Scheduler) spawn(from *Processor, name string, task Task) *Coroutine {
	if task == nil {
		panic("core: spawn of nil task")
	}
	name = resolveCoroutineName(task, name)

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		s.cfg.Logger.Warn("spawn rejected: scheduler is shutting down", F("coroutine", name))
		return nil
	}

	co := newCoroutine(s, CoroutineID(s.ids.Add(1)), name, task)
	s.coroutines.Store(co.id, co)
	s.addLive()
	s.spawned.Add(1)

	procID := NoProcessor
	if from != nil {
		procID = from.id
	}
	s.trace(TraceCoroutineCreated, co, procID, "")
	s.place(co)
	return co
}

// ready moves a coroutine parked on a wait-list back to a ready queue.
func (s *Scheduler) ready(co *Coroutine) {
	co.transition(StateBlocked, StateReady)
	s.place(co)
}

// place puts a ready coroutine on a processor round-robin, or on the
// global queue when no processor accepts it.
func (s *Scheduler) place(co *Coroutine) {
	if procs := *s.activeSnap.Load(); len(procs) > 0 {
		p := procs[int(s.rr.Add(1)%uint32(len(procs)))]
		if p.enqueue(co) {
			if s.idleCount.Load() > 0 && p.State() != ProcessorIdle {
				s.wakeIdle()
			}
			return
		}
	}
	s.pushGlobal(co)
}

func (s *Scheduler) pushGlobal(cos ...*Coroutine) {
	if len(cos) == 0 {
		return
	}
	s.mu.Lock()
	s.global.push(cos...)
	waker := s.pickIdleLocked()
	s.mu.Unlock()
	if waker != nil {
		waker.wake()
	}
}

func (s *Scheduler) takeGlobal() []*Coroutine {
	if s.global.len() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global.takeAll()
}

// steal takes half of some sibling's queue, starting at a random victim.
func (s *Scheduler) steal(thief *Processor) []*Coroutine {
	procs := *s.activeSnap.Load()
	n := len(procs)
	if n < 2 {
		return nil
	}
	start := rand.IntN(n)
	for i := range n {
		victim := procs[(start+i)%n]
		if victim == thief || victim.blocked.Load() {
			continue
		}
		if got := victim.queue.StealHalf(); len(got) > 0 {
			s.steals.Add(1)
			s.cfg.Metrics.RecordSteal(s.cfg.Name, len(got))
			return got
		}
	}
	return nil
}

func (s *Scheduler) wakeIdle() {
	s.mu.Lock()
	p := s.pickIdleLocked()
	s.mu.Unlock()
	if p != nil {
		p.wake()
	}
}

func (s *Scheduler) pickIdleLocked() *Processor {
	for p := range s.idle {
		s.setIdleLocked(p, false)
		return p
	}
	return nil
}

func (s *Scheduler) setIdleLocked(p *Processor, idle bool) {
	if idle {
		s.idle[p] = struct{}{}
	} else {
		delete(s.idle, p)
	}
	s.idleCount.Store(int32(len(s.idle)))
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// =============================================================================
// Processor lifecycle (called with s.mu unlocked)
// =============================================================================

func (s *Scheduler) newProcessorLocked() *Processor {
	p := newProcessor(s, s.nextProcID)
	s.nextProcID++
	s.processors[p] = struct{}{}
	s.addActiveLocked(p)
	s.wg.Add(1)
	return p
}

func (s *Scheduler) addActiveLocked(p *Processor) {
	s.active = append(s.active, p)
	s.publishActiveLocked()
}

func (s *Scheduler) removeActiveLocked(p *Processor) bool {
	i := slices.Index(s.active, p)
	if i < 0 {
		return false
	}
	s.active = slices.Delete(s.active, i, i+1)
	s.publishActiveLocked()
	return true
}

func (s *Scheduler) publishActiveLocked() {
	snap := slices.Clone(s.active)
	s.activeSnap.Store(&snap)
}

func (s *Scheduler) processorIdle(p *Processor) idleDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.active, p) {
		// Already taken out of the pool by processorUnblocked.
		if stale := p.queue.CloseAndDrain(); len(stale) > 0 {
			s.global.push(stale...)
			if waker := s.pickIdleLocked(); waker != nil {
				waker.wake()
			}
		}
		return idleRetire
	}
	if s.global.len() > 0 || !p.queue.IsEmpty() {
		return idleRetry
	}
	if !s.stopping && len(s.active) > s.target && s.removeActiveLocked(p) {
		// A stale placement may still land here; move it to the global queue.
		if stale := p.queue.CloseAndDrain(); len(stale) > 0 {
			s.global.push(stale...)
			if waker := s.pickIdleLocked(); waker != nil {
				waker.wake()
			}
		}
		return idleRetire
	}
	s.setIdleLocked(p, true)
	p.state.Store(int32(ProcessorIdle))
	return idlePark
}

func (s *Scheduler) processorWoken(p *Processor) {
	s.mu.Lock()
	s.setIdleLocked(p, false)
	s.mu.Unlock()
	p.state.Store(int32(ProcessorRunning))
}

func (s *Scheduler) processorBlocked(p *Processor, leftovers []*Coroutine, checkpoint string) {
	s.mu.Lock()
	s.removeActiveLocked(p)
	s.setIdleLocked(p, false)
	s.global.push(leftovers...)
	var replacement *Processor
	if s.running && !s.stopping && len(s.active) < s.target {
		replacement = s.newProcessorLocked()
	}
	s.blocked[p] = blockRecord{checkpoint: checkpoint, replaced: replacement != nil}
	var waker *Processor
	if len(leftovers) > 0 {
		waker = s.pickIdleLocked()
	}
	s.mu.Unlock()

	if replacement != nil {
		replacement.start()
	}
	if waker != nil {
		waker.wake()
	}

	s.cfg.Metrics.RecordProcessorBlocked(s.cfg.Name, replacement != nil)
	s.trace(TraceProcessorBlocked, p.current.Load(), p.id, checkpoint)
	s.cfg.Logger.Debug("processor blocked",
		F("processor", p.id),
		F("checkpoint", checkpoint),
		F("handed_off", len(leftovers)),
		F("replaced", replacement != nil))
}

// processorUnblocked readmits p unless a stand-in took its place and the
// pool is still at target. If an active processor is parked idle, that one
// is retired instead and p resumes; otherwise p retires and its coroutine
// moves on.
func (s *Scheduler) processorUnblocked(p *Processor, checkpoint string) UnblockResult {
	s.mu.Lock()
	rec := s.blocked[p]
	delete(s.blocked, p)
	result := Retired
	var surplus *Processor
	switch {
	case !rec.replaced || len(s.active) < s.target:
		result = Resumed
	case s.running && !s.stopping:
		if idle := s.pickIdleLocked(); idle != nil && s.removeActiveLocked(idle) {
			surplus = idle
			result = Resumed
		}
	}
	if result == Resumed {
		s.addActiveLocked(p)
	}
	s.mu.Unlock()

	if surplus != nil {
		surplus.stop()
		s.cfg.Logger.Debug("idle processor retired for unblocked one",
			F("processor", surplus.id),
			F("unblocked", p.id))
	}

	s.cfg.Metrics.RecordProcessorUnblocked(s.cfg.Name, result)
	s.trace(TraceProcessorUnblocked, p.current.Load(), p.id, checkpoint)
	s.cfg.Logger.Debug("processor unblocked",
		F("processor", p.id),
		F("checkpoint", checkpoint),
		F("result", result.String()))
	return result
}

func (s *Scheduler) processorExited(p *Processor) {
	p.state.Store(int32(ProcessorStopped))

	s.mu.Lock()
	delete(s.processors, p)
	delete(s.blocked, p)
	s.setIdleLocked(p, false)
	s.removeActiveLocked(p)
	retiring := !s.stopping
	s.global.push(p.queue.CloseAndDrain()...)
	var waker *Processor
	if s.global.len() > 0 {
		waker = s.pickIdleLocked()
	}
	s.mu.Unlock()

	if waker != nil {
		waker.wake()
	}
	if retiring {
		s.retired.Add(1)
	}
	s.trace(TraceProcessorStopped, nil, p.id, "")
	s.cfg.Logger.Debug("processor stopped",
		F("processor", p.id),
		F("executed", p.executed.Load()))
	s.wg.Done()
}

// =============================================================================
// Coroutine lifecycle
// =============================================================================

func (s *Scheduler) coroutineFinished(co *Coroutine, p *Processor) {
	if co.panicValue != nil {
		s.cfg.Metrics.RecordCoroutinePanic(s.cfg.Name, co.panicValue)
		s.cfg.PanicHandler.HandlePanic(co.ctx, s.cfg.Name, p.id, co.panicValue, co.panicStack)
	}
	s.coroutines.Delete(co.id)
	s.history.Add(newCoroutineRecord(co, p.id))
	s.trace(TraceCoroutineFinished, co, p.id, "")
	s.doneLive()
}

func (s *Scheduler) addLive() {
	s.liveMu.Lock()
	if s.live == 0 {
		s.quiescent = make(chan struct{})
	}
	s.live++
	s.liveMu.Unlock()
}

func (s *Scheduler) doneLive() {
	s.liveMu.Lock()
	s.live--
	if s.live == 0 {
		close(s.quiescent)
	}
	s.liveMu.Unlock()
}

func (s *Scheduler) liveCount() int {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.live
}

// Wait blocks until no coroutine is live.
func (s *Scheduler) Wait() {
	_ = s.WaitContext(context.Background())
}

// WaitContext blocks until no coroutine is live or ctx is done.
func (s *Scheduler) WaitContext(ctx context.Context) error {
	s.liveMu.Lock()
	ch := s.quiescent
	s.liveMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetConcurrency changes the target number of unblocked processors.
// Growing starts processors at once; surplus processors retire when they
// next go idle.
func (s *Scheduler) SetConcurrency(n int) {
	if n < 1 {
		panic(fmt.Sprintf("core: concurrency must be at least 1, got %d", n))
	}

	s.mu.Lock()
	s.target = n
	var started []*Processor
	if s.running && !s.stopping {
		for len(s.active) < n {
			started = append(started, s.newProcessorLocked())
		}
	}
	var idle []*Processor
	if len(s.active) > n {
		for p := range s.idle {
			idle = append(idle, p)
		}
		for _, p := range idle {
			s.setIdleLocked(p, false)
		}
	}
	s.mu.Unlock()

	for _, p := range started {
		p.start()
	}
	for _, p := range idle {
		p.wake()
	}
	s.cfg.Logger.Info("concurrency changed", F("target", n))
}

// =============================================================================
// Observability
// =============================================================================

func (s *Scheduler) trace(kind TraceEventKind, co *Coroutine, processorID int, checkpoint string) {
	if _, ok := s.cfg.Tracer.(NopTracer); ok {
		return
	}
	ev := TraceEvent{
		Kind:        kind,
		ProcessorID: processorID,
		Checkpoint:  checkpoint,
		Nanos:       time.Since(s.epoch).Nanoseconds(),
	}
	if co != nil {
		ev.CoroutineID = co.id
		ev.Name = co.name
	}
	s.cfg.Tracer.Record(ev)
}

// Stats returns a snapshot of the scheduler. Processors are ordered by ID.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	st := SchedulerStats{
		Name:         s.cfg.Name,
		Target:       s.target,
		Active:       len(s.active),
		Idle:         len(s.idle),
		Blocked:      len(s.blocked),
		GlobalQueued: s.global.len(),
		Running:      s.running && !s.stopping,
	}
	procs := make([]*Processor, 0, len(s.processors))
	checkpoints := make(map[*Processor]string, len(s.blocked))
	for p := range s.processors {
		procs = append(procs, p)
	}
	for p, rec := range s.blocked {
		checkpoints[p] = rec.checkpoint
	}
	s.mu.Unlock()

	sort.Slice(procs, func(i, j int) bool { return procs[i].id < procs[j].id })
	for _, p := range procs {
		ps := ProcessorStats{
			ID:         p.id,
			State:      p.State(),
			QueueDepth: p.queue.Len(),
			Checkpoint: checkpoints[p],
			Executed:   p.executed.Load(),
		}
		if co := p.current.Load(); co != nil {
			ps.Current = co.name
		}
		st.Processors = append(st.Processors, ps)
	}

	st.Live = s.liveCount()
	st.Spawned = s.spawned.Load()
	st.Steals = s.steals.Load()
	st.Retired = s.retired.Load()
	return st
}

// Coroutines returns the live coroutines ordered by ID.
func (s *Scheduler) Coroutines() []CoroutineInfo {
	running := make(map[*Coroutine]int)
	s.mu.Lock()
	for p := range s.processors {
		if co := p.current.Load(); co != nil {
			running[co] = p.id
		}
	}
	s.mu.Unlock()

	now := time.Now()
	var out []CoroutineInfo
	s.coroutines.Range(func(_, v any) bool {
		co := v.(*Coroutine)
		info := CoroutineInfo{
			ID:         co.id,
			Name:       co.name,
			State:      co.State(),
			Checkpoint: co.Checkpoint(),
			Processor:  NoProcessor,
			Age:        now.Sub(co.spawnedAt),
		}
		if id, ok := running[co]; ok {
			info.Processor = id
		}
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecentCoroutines returns up to limit finished coroutines, newest first.
func (s *Scheduler) RecentCoroutines(limit int) []CoroutineRecord {
	return s.history.Recent(limit)
}

// LastCoroutine returns the most recently finished coroutine.
func (s *Scheduler) LastCoroutine() (CoroutineRecord, bool) {
	return s.history.Last()
}

// DebugDump writes a human-readable snapshot of processors and live
// coroutines to w. It is safe to call at any time, including while
// processors are blocked.
func (s *Scheduler) DebugDump(w io.Writer) error {
	st := s.Stats()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "scheduler %q: target=%d active=%d idle=%d blocked=%d global=%d live=%d spawned=%d steals=%d\n",
		st.Name, st.Target, st.Active, st.Idle, st.Blocked, st.GlobalQueued, st.Live, st.Spawned, st.Steals)
	fmt.Fprintln(tw, "PROCESSOR\tSTATE\tQUEUE\tCURRENT\tCHECKPOINT")
	for _, p := range st.Processors {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", p.ID, p.State, p.QueueDepth, p.Current, p.Checkpoint)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "COROUTINE\tNAME\tSTATE\tPROCESSOR\tCHECKPOINT\tAGE")
	for _, c := range s.Coroutines() {
		proc := "-"
		if c.Processor != NoProcessor {
			proc = fmt.Sprint(c.Processor)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.State, proc, c.Checkpoint, c.Age.Truncate(time.Millisecond))
	}
	return tw.Flush()
}
