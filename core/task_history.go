package core

import (
	"reflect"
	"runtime"
	"sync"
	"time"
)

const defaultHistoryCapacity = 100

// CoroutineRecord describes a finished coroutine.
type CoroutineRecord struct {
	ID         CoroutineID
	Name       string
	Processor  int
	Resumes    int
	SpawnedAt  time.Time
	FinishedAt time.Time
	Lifetime   time.Duration
	Panicked   bool
}

type coroutineHistory struct {
	mu    sync.Mutex
	items []CoroutineRecord
	head  int
	count int
}

func newCoroutineHistory(capacity int) coroutineHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return coroutineHistory{items: make([]CoroutineRecord, capacity)}
}

func (h *coroutineHistory) Add(record CoroutineRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *coroutineHistory) Recent(limit int) []CoroutineRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]CoroutineRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *coroutineHistory) Last() (CoroutineRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return CoroutineRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// resolveCoroutineName falls back to the body's function symbol.
func resolveCoroutineName(task Task, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if task == nil {
		return "anonymous"
	}

	v := reflect.ValueOf(task)
	if v.Kind() != reflect.Func {
		return "anonymous"
	}
	pc := v.Pointer()
	if pc == 0 {
		return "anonymous"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return "anonymous"
	}
	return fn.Name()
}

func newCoroutineRecord(co *Coroutine, processorID int) CoroutineRecord {
	finishedAt := time.Now()
	return CoroutineRecord{
		ID:         co.id,
		Name:       co.name,
		Processor:  processorID,
		Resumes:    co.resumes,
		SpawnedAt:  co.spawnedAt,
		FinishedAt: finishedAt,
		Lifetime:   finishedAt.Sub(co.spawnedAt),
		Panicked:   co.panicValue != nil,
	}
}
