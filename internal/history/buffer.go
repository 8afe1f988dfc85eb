package history

import (
	"sync"

	"github.com/srg/soundlink/internal/reading"
)

// DefaultCapacity is the number of readings retained when no capacity is configured
const DefaultCapacity = 20

// Buffer is a thread-safe fixed-capacity FIFO of readings.
// When full, pushing a new reading evicts the oldest one.
type Buffer struct {
	mu       sync.RWMutex
	data     []reading.Reading
	capacity int
	size     int
	head     int
}

// NewBuffer creates a buffer holding up to capacity readings.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data:     make([]reading.Reading, capacity),
		capacity: capacity,
	}
}

// Push appends a reading, overwriting the oldest entry when the buffer is full.
// It reports whether an entry was evicted.
func (b *Buffer) Push(r reading.Reading) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted = b.size == b.capacity
	b.data[b.head] = r.Clone()
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	return evicted
}

// Snapshot returns a copy of the buffered readings ordered oldest to newest
func (b *Buffer) Snapshot() []reading.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() []reading.Reading {
	out := make([]reading.Reading, b.size)
	// oldest entry sits at head once the buffer has wrapped, at 0 before that
	start := 0
	if b.size == b.capacity {
		start = b.head
	}
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(start+i)%b.capacity].Clone()
	}
	return out
}

// Len returns the current number of buffered readings
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the maximum number of buffered readings
func (b *Buffer) Cap() int {
	return b.capacity
}

// Clear drops all buffered readings
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.data)
	b.size = 0
	b.head = 0
}

// Statistics computes summary statistics over the current contents
func (b *Buffer) Statistics() Statistics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Compute(b.snapshotLocked())
}
