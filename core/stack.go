package core

// Stack is an independent execution stack that a coroutine body runs on.
//
// Resume and Suspend form a strict hand-off: while one goroutine is inside
// Resume, the stack's entry function is executing, and vice versa.
type Stack interface {
	// Resume starts the entry function or continues it from its last
	// Suspend. It returns true when the entry suspended and false once the
	// entry has returned.
	Resume() bool

	// Suspend hands control back to the caller of Resume and waits for
	// the next Resume. It must only be called from the entry function.
	Suspend()
}

// StackFactory creates stacks. size is a hint; implementations that grow
// their stacks on demand may ignore it.
type StackFactory interface {
	NewStack(size int, entry func()) Stack
}

// GoroutineStacks backs every coroutine with its own goroutine, switching
// between them with an unbuffered channel hand-off. Goroutine stacks grow
// on demand, so the size hint is ignored.
type GoroutineStacks struct{}

// NewStack implements StackFactory.
func (GoroutineStacks) NewStack(size int, entry func()) Stack {
	return &goroutineStack{
		entry:    entry,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan bool),
	}
}

type goroutineStack struct {
	entry    func()
	resumeCh chan struct{}
	yieldCh  chan bool
	started  bool
	done     bool
}

func (s *goroutineStack) Resume() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		go s.main()
	} else {
		s.resumeCh <- struct{}{}
	}
	alive := <-s.yieldCh
	if !alive {
		s.done = true
	}
	return alive
}

func (s *goroutineStack) Suspend() {
	s.yieldCh <- true
	<-s.resumeCh
}

func (s *goroutineStack) main() {
	defer func() { s.yieldCh <- false }()
	s.entry()
}
