package frame

import "sync"

// TripleBuffer passes values of type T from one producer to one
// consumer without either side ever blocking on the other. The
// producer always has a private slot to fill, the consumer always has
// a private slot to read, and a third slot hands finished values
// across. Intermediate values are dropped when the consumer falls
// behind; the consumer always ends up on the most recent value.
type TripleBuffer[T any] struct {
	mu       sync.Mutex
	slots    [3]T
	write    int
	ready    int
	read     int
	hasReady bool
}

// NewTripleBuffer returns a triple buffer whose slots hold zero
// values of T.
func NewTripleBuffer[T any]() *TripleBuffer[T] {
	return &TripleBuffer[T]{write: 2, ready: 1, read: 0}
}

// StartNewValue returns the producer's private slot for in-place
// filling. The slot stays owned by the producer until PostNewValue.
func (tb *TripleBuffer[T]) StartNewValue() *T {
	return &tb.slots[tb.write]
}

// PostNewValue publishes the slot returned by StartNewValue, making it
// the value the consumer will pick up next. Any previously posted but
// unconsumed value is recycled into the producer's next write slot.
func (tb *TripleBuffer[T]) PostNewValue() {
	tb.mu.Lock()
	tb.write, tb.ready = tb.ready, tb.write
	tb.hasReady = true
	tb.mu.Unlock()
}

// PostValue copies v into the write slot and publishes it.
func (tb *TripleBuffer[T]) PostValue(v T) {
	tb.slots[tb.write] = v
	tb.PostNewValue()
}

// LockNewValue moves the consumer onto the most recently posted value.
// It reports whether a value newer than the one currently locked was
// available; when it returns false the locked value is unchanged.
func (tb *TripleBuffer[T]) LockNewValue() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if !tb.hasReady {
		return false
	}
	tb.read, tb.ready = tb.ready, tb.read
	tb.hasReady = false
	return true
}

// LockedValue returns the consumer's current slot. The pointer is
// valid until the next LockNewValue.
func (tb *TripleBuffer[T]) LockedValue() *T {
	return &tb.slots[tb.read]
}

// Drain calls release on every slot, including a posted value the
// consumer never locked, and clears the posted flag. Only call after
// producer and consumer have stopped.
func (tb *TripleBuffer[T]) Drain(release func(*T)) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for i := range tb.slots {
		release(&tb.slots[i])
	}
	tb.hasReady = false
}
