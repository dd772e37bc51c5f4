package core

import "time"

// ProcessorStats represents runtime observability state for one processor.
type ProcessorStats struct {
	ID         int
	State      ProcessorState
	QueueDepth int
	Current    string
	Checkpoint string
	Executed   uint64
}

// CoroutineInfo is a point-in-time view of a live coroutine.
type CoroutineInfo struct {
	ID         CoroutineID
	Name       string
	State      State
	Checkpoint string
	Processor  int
	Age        time.Duration
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name         string
	Target       int
	Active       int
	Idle         int
	Blocked      int
	GlobalQueued int
	Live         int
	Spawned      uint64
	Steals       uint64
	Retired      uint64
	Running      bool
	Processors   []ProcessorStats
}

// Queued sums local and global ready queue depths.
func (s SchedulerStats) Queued() int {
	n := s.GlobalQueued
	for _, p := range s.Processors {
		n += p.QueueDepth
	}
	return n
}
