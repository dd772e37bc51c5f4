package core

import (
	"sync"
	"testing"
)

func testCoroutines(n int) []*Coroutine {
	cos := make([]*Coroutine, n)
	for i := range cos {
		cos[i] = &Coroutine{id: CoroutineID(i)}
	}
	return cos
}

// TestLocalQueue_FIFO verifies head-pop ordering
// Given: A local queue with five coroutines pushed in order
// When: All are popped
// Then: They come out in push order and the queue ends empty
func TestLocalQueue_FIFO(t *testing.T) {
	// Arrange
	q := NewLocalQueue()
	cos := testCoroutines(5)

	// Act
	q.Push(cos[0])
	q.PushMany(cos[1:])

	// Assert
	for i := range cos {
		co, ok := q.Pop()
		if !ok {
			t.Fatalf("Step %d: queue is empty", i)
		}
		if co != cos[i] {
			t.Errorf("Step %d: popped id %d, want %d", i, co.id, i)
		}
	}
	if !q.IsEmpty() {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

// TestLocalQueue_StealHalf verifies that stealing takes the back half
// Given: Queues of several lengths
// When: StealHalf is called
// Then: floor(n/2) coroutines are taken from the tail, in queue order
func TestLocalQueue_StealHalf(t *testing.T) {
	tests := []struct {
		n         int
		wantSteal int
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{5, 2},
		{8, 4},
	}

	for _, tt := range tests {
		// Arrange
		q := NewLocalQueue()
		cos := testCoroutines(tt.n)
		q.PushMany(cos)

		// Act
		stolen := q.StealHalf()

		// Assert
		if len(stolen) != tt.wantSteal {
			t.Fatalf("n=%d: stole %d, want %d", tt.n, len(stolen), tt.wantSteal)
		}
		keep := tt.n - tt.wantSteal
		for i, co := range stolen {
			if co != cos[keep+i] {
				t.Errorf("n=%d: stolen[%d] = %d, want %d", tt.n, i, co.id, keep+i)
			}
		}
		if q.Len() != keep {
			t.Errorf("n=%d: Len() = %d, want %d", tt.n, q.Len(), keep)
		}
		if keep > 0 {
			if head, _ := q.Pop(); head != cos[0] {
				t.Errorf("n=%d: head = %d, want 0", tt.n, head.id)
			}
		}
	}
}

// TestLocalQueue_CloseAndDrain verifies the blocked-processor hand-off
// Given: A queue holding three coroutines
// When: CloseAndDrain is called, then pushes are attempted, then Reopen
// Then: All three are returned, pushes are refused while closed, accepted after
func TestLocalQueue_CloseAndDrain(t *testing.T) {
	// Arrange
	q := NewLocalQueue()
	cos := testCoroutines(4)
	q.PushMany(cos[:3])

	// Act
	drained := q.CloseAndDrain()

	// Assert
	if len(drained) != 3 {
		t.Fatalf("drained %d, want 3", len(drained))
	}
	if q.Push(cos[3]) {
		t.Error("Push on closed queue succeeded")
	}
	if q.PushMany(cos[3:]) {
		t.Error("PushMany on closed queue succeeded")
	}
	if !q.IsEmpty() {
		t.Errorf("Len() = %d after drain, want 0", q.Len())
	}

	q.Reopen()
	if !q.Push(cos[3]) {
		t.Error("Push after Reopen failed")
	}
}

// TestLocalQueue_ConcurrentSteal verifies no coroutine is lost or duplicated
// Given: An owner pushing and popping while four thieves steal concurrently
// When: Every coroutine has been taken by someone
// Then: Each coroutine was taken exactly once
func TestLocalQueue_ConcurrentSteal(t *testing.T) {
	// Arrange
	const total = 10000
	q := NewLocalQueue()
	cos := testCoroutines(total)

	var mu sync.Mutex
	seen := make(map[CoroutineID]int, total)
	record := func(batch ...*Coroutine) {
		mu.Lock()
		for _, co := range batch {
			seen[co.id]++
		}
		mu.Unlock()
	}

	// Act
	done := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					record(q.StealHalf()...)
					return
				default:
				}
				record(q.StealHalf()...)
			}
		}()
	}

	for i, co := range cos {
		q.Push(co)
		if i%3 == 0 {
			if got, ok := q.Pop(); ok {
				record(got)
			}
		}
	}
	for {
		co, ok := q.Pop()
		if !ok {
			break
		}
		record(co)
	}
	close(done)
	wg.Wait()
	for {
		co, ok := q.Pop()
		if !ok {
			break
		}
		record(co)
	}

	// Assert
	if len(seen) != total {
		t.Fatalf("saw %d distinct coroutines, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("coroutine %d taken %d times", id, n)
		}
	}
}
