// Package ringchan provides a bounded channel that overwrites its oldest
// element instead of blocking the producer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Ring is a channel-like buffer with overwrite-oldest semantics. Producers
// never block; consumers read C() like any channel.
//
//	r := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    r.Send(i)
//	}
//	r.Close()
//	for v := range r.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
type Ring[T any] struct {
	ch chan T

	mu     sync.Mutex // serialises producers so drop-then-send stays atomic
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a Ring holding up to capacity elements.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (r *Ring[T]) C() <-chan T { return r.ch }

// Send inserts v, discarding the oldest element when full. It reports
// whether something was discarded. Sending on a closed Ring is a no-op.
func (r *Ring[T]) Send(v T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	for {
		select {
		case r.ch <- v:
			r.sent.Add(1)
			return dropped
		default:
		}
		// Full: a consumer may drain concurrently, so the receive can miss.
		select {
		case <-r.ch:
			r.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (r *Ring[T]) TrySend(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.ch <- v:
		r.sent.Add(1)
		return true
	default:
		return false
	}
}

// TryReceive returns a buffered element without blocking.
func (r *Ring[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		return v, ok
	default:
		return v, false
	}
}

func (r *Ring[T]) Len() int { return len(r.ch) }
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Sent and Dropped count accepted and overwritten elements.
func (r *Ring[T]) Sent() int64    { return r.sent.Load() }
func (r *Ring[T]) Dropped() int64 { return r.dropped.Load() }

// Close closes C after the buffered elements. It is idempotent.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
