package coro

import "github.com/Swind/go-coro/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the coro package for most use cases.

// Task is a coroutine body
type Task = core.Task

// Coroutine is a handle to a spawned coroutine
type Coroutine = core.Coroutine

// Scheduler multiplexes coroutines over a pool of processors
type Scheduler = core.Scheduler

// SchedulerConfig configures a Scheduler
type SchedulerConfig = core.SchedulerConfig

// Reader and Writer are the two ends of a bounded channel
type (
	Reader[T any] = core.Reader[T]
	Writer[T any] = core.Writer[T]
)

// Buffer is the payload type moved through byte pipelines
type Buffer = core.Buffer

// UnblockResult reports what Unblock did with the calling coroutine
type UnblockResult = core.UnblockResult

const (
	Resumed = core.Resumed
	Retired = core.Retired
)

// ErrChannelClosed is returned by Put and Get on a closed channel.
var ErrChannelClosed = core.ErrChannelClosed

// NewScheduler creates a scheduler targeting the given number of processors.
func NewScheduler(concurrency int) *Scheduler {
	return core.NewScheduler(concurrency)
}

// MakeChannel returns a connected reader and writer with the given capacity.
func MakeChannel[T any](capacity int, name string) (*Reader[T], *Writer[T]) {
	return core.MakeChannel[T](capacity, name)
}

// Coroutine-side helpers
var (
	Yield            = core.Yield
	Block            = core.Block
	Unblock          = core.Unblock
	CurrentCoroutine = core.CurrentCoroutine
	NewBuffer        = core.NewBuffer
)
