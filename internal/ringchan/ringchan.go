// Package ringchan provides a bounded queue with overwrite-oldest semantics.
//
// It sits between transport callbacks, which must never block, and the
// goroutine that processes notifications:
//
//	rc := ringchan.New[[]byte](64)
//
//	// producer (transport callback): always returns immediately
//	rc.Send(payload)
//
//	// consumer
//	for p := range rc.C() {
//	    handle(p)
//	}
//
// When consumers fall behind only the newest Cap() values are kept.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel that discards the oldest element when full
type RingChannel[T any] struct {
	mu     sync.RWMutex // guards closed against concurrent Send
	ch     chan T
	closed bool

	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close once drained.
// Reads through C are not counted in Metrics.Processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send enqueues v, dropping the oldest element when the buffer is full.
// It never blocks. Values sent after Close are discarded and counted as dropped.
// Returns true when an element (old or v itself) was discarded.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	// RLock lets many producers run; Close takes the write lock
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	if rc.closed {
		atomic.AddInt64(&rc.metrics.Dropped, 1)
		return true
	}

	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}

		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
			// a consumer emptied a slot between the two selects
		}
	}
}

// Receive blocks until a value is available or the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		atomic.AddInt64(&rc.metrics.Processed, 1)
	}
	return
}

// TryReceive is the non-blocking form of Receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			atomic.AddInt64(&rc.metrics.Processed, 1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close stops accepting values. Buffered values remain readable. Idempotent.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Stats returns a snapshot of the counters.
func (rc *RingChannel[T]) Stats() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Dropped:     atomic.LoadInt64(&rc.metrics.Dropped),
	}
}

// Metrics counts queue activity.
type Metrics struct {
	Processed   int64 // values taken via Receive/TryReceive
	Written     int64 // values accepted by Send
	Overwritten int64 // buffered values evicted to make room
	Dropped     int64 // values rejected after Close
}
