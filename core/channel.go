package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"code.hybscloud.com/atomix"
)

// ErrChannelClosed is returned by Put on a closed channel and by Get on a
// closed channel that has been drained. It is the normal way for a
// pipeline stage to learn that its neighbour is gone.
var ErrChannelClosed = errors.New("core: channel closed")

var channelSerial atomix.Uint32

// waiter is a parked coroutine or, for callers outside any coroutine, a
// goroutine blocked on ch.
type waiter struct {
	co       *Coroutine
	ch       chan struct{}
	signaled bool
}

// wake must be called after the waiter was removed from its list under
// the channel lock.
func (w *waiter) wake() {
	if w.co != nil {
		w.co.sched.ready(w.co)
		return
	}
	close(w.ch)
}

type channel[T any] struct {
	name string

	mu      sync.Mutex
	buf     []T
	head    int
	count   int
	closed  bool
	readers []*waiter
	writers []*waiter
}

// Reader is the receiving end of a channel.
type Reader[T any] struct {
	c *channel[T]
}

// Writer is the sending end of a channel.
type Writer[T any] struct {
	c *channel[T]
}

// MakeChannel returns the two ends of a bounded channel holding at most
// capacity items. An empty name is replaced by a generated one.
//
// Both ends may be used from coroutines and from plain goroutines. A
// coroutine that has to wait suspends and frees its processor; a
// goroutine blocks.
//
// Copies of an end share it. Once either end becomes unreachable the
// channel is closed, so a peer parked on it is released with
// ErrChannelClosed instead of waiting forever.
func MakeChannel[T any](capacity int, name string) (*Reader[T], *Writer[T]) {
	if capacity < 1 {
		panic(fmt.Sprintf("core: channel capacity must be at least 1, got %d", capacity))
	}
	if name == "" {
		name = fmt.Sprintf("chan-%d", channelSerial.Add(1))
	}
	c := &channel[T]{
		name: name,
		buf:  make([]T, capacity),
	}
	r := &Reader[T]{c: c}
	w := &Writer[T]{c: c}
	runtime.AddCleanup(r, (*channel[T]).close, c)
	runtime.AddCleanup(w, (*channel[T]).close, c)
	return r, w
}

// Put appends v, waiting while the channel is full. It returns
// ErrChannelClosed if the channel is or becomes closed before v is
// accepted; v is then not consumed.
//
// ctx identifies the calling coroutine. Goroutine callers may also use it
// to give up waiting; coroutines are only released by Get or Close.
func (w *Writer[T]) Put(ctx context.Context, v T) error {
	return w.c.put(ctx, v)
}

// PutOrDrop is Put that silently drops v on a closed channel. It reports
// whether v was accepted.
func (w *Writer[T]) PutOrDrop(ctx context.Context, v T) bool {
	return w.c.put(ctx, v) == nil
}

// Close closes the channel. Buffered items stay readable.
func (w *Writer[T]) Close() { w.c.close() }

func (w *Writer[T]) Len() int       { return w.c.len() }
func (w *Writer[T]) Cap() int       { return len(w.c.buf) }
func (w *Writer[T]) Name() string   { return w.c.name }
func (w *Writer[T]) IsClosed() bool { return w.c.isClosed() }
func (w *Writer[T]) String() string { return w.c.String() }
func (r *Reader[T]) Len() int       { return r.c.len() }
func (r *Reader[T]) Cap() int       { return len(r.c.buf) }
func (r *Reader[T]) Name() string   { return r.c.name }
func (r *Reader[T]) IsClosed() bool { return r.c.isClosed() }
func (r *Reader[T]) String() string { return r.c.String() }

// Close closes the channel from the receiving side. Buffered items stay
// readable and pending Puts fail with ErrChannelClosed.
func (r *Reader[T]) Close() { r.c.close() }

// Get removes the oldest item, waiting while the channel is empty. Once
// the channel is closed and drained it returns ErrChannelClosed.
func (r *Reader[T]) Get(ctx context.Context) (T, error) {
	return r.c.get(ctx)
}

func (c *channel[T]) put(ctx context.Context, v T) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrChannelClosed
		}
		if c.count < len(c.buf) {
			c.buf[(c.head+c.count)%len(c.buf)] = v
			c.count++
			next := popWaiter(&c.readers)
			c.mu.Unlock()
			if next != nil {
				next.wake()
			}
			return nil
		}
		if err := c.waitLocked(ctx, &c.writers, "put "+c.name); err != nil {
			return err
		}
	}
}

func (c *channel[T]) get(ctx context.Context) (T, error) {
	var zero T
	for {
		c.mu.Lock()
		if c.count > 0 {
			v := c.buf[c.head]
			c.buf[c.head] = zero
			c.head = (c.head + 1) % len(c.buf)
			c.count--
			next := popWaiter(&c.writers)
			c.mu.Unlock()
			if next != nil {
				next.wake()
			}
			return v, nil
		}
		if c.closed {
			c.mu.Unlock()
			return zero, ErrChannelClosed
		}
		if err := c.waitLocked(ctx, &c.readers, "get "+c.name); err != nil {
			return zero, err
		}
	}
}

// waitLocked parks the caller on list and releases c.mu. It returns when
// the caller was woken, or with ctx's error when a goroutine caller gave
// up first.
func (c *channel[T]) waitLocked(ctx context.Context, list *[]*waiter, checkpoint string) error {
	if co := CurrentCoroutine(ctx); co != nil {
		w := &waiter{co: co}
		co.park(checkpoint)
		*list = append(*list, w)
		c.mu.Unlock()
		co.suspend()
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	w := &waiter{ch: make(chan struct{})}
	*list = append(*list, w)
	c.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	if w.signaled {
		// Lost the race with a waker; pass the wakeup on.
		var next *waiter
		if list == &c.readers && c.count > 0 || list == &c.writers && c.count < len(c.buf) {
			next = popWaiter(list)
		}
		c.mu.Unlock()
		if next != nil {
			next.wake()
		}
		return ctx.Err()
	}
	if i := slices.Index(*list, w); i >= 0 {
		*list = slices.Delete(*list, i, i+1)
	}
	c.mu.Unlock()
	return ctx.Err()
}

func popWaiter(list *[]*waiter) *waiter {
	if len(*list) == 0 {
		return nil
	}
	w := (*list)[0]
	w.signaled = true
	(*list)[0] = nil
	*list = (*list)[1:]
	return w
}

func (c *channel[T]) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	waiters := append(c.readers, c.writers...)
	for _, w := range waiters {
		w.signaled = true
	}
	c.readers = nil
	c.writers = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w.wake()
	}
}

func (c *channel[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *channel[T]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *channel[T]) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("channel %q (%d/%d, closed=%t)", c.name, c.count, len(c.buf), c.closed)
}
