// Package eventchan provides a zero-capacity rendezvous channel with a
// shareable producer handle and an explicit end-of-stream.
//
// A Send does not return until the receiver has taken the value, so a slow
// consumer throttles the producer instead of letting events pile up.
//
// # Example
//
//	tx, rx := eventchan.New[int]()
//
//	go func() {
//	    defer tx.Close()
//	    for i := 0; i < 3; i++ {
//	        tx.Send(i) // parks until rx takes it
//	    }
//	}()
//
//	for v := range rx.All() {
//	    fmt.Println("got:", v)
//	}
package eventchan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by RecvContext once the stream has ended.
var ErrClosed = errors.New("eventchan: closed")

type shared[T any] struct {
	ch chan T

	producers atomic.Int64
	closed    chan struct{} // closed when the last producer is gone
	closeOnce sync.Once

	gone     chan struct{} // closed when the receiver is dropped
	goneOnce sync.Once
}

// Sender is the producer side. Clone it to share; every clone must be closed.
type Sender[T any] struct {
	s        *shared[T]
	released atomic.Bool
}

// Receiver is the single consumer side.
type Receiver[T any] struct {
	s *shared[T]
}

// New creates a connected Sender/Receiver pair.
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &shared[T]{
		ch:     make(chan T),
		closed: make(chan struct{}),
		gone:   make(chan struct{}),
	}
	s.producers.Store(1)
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Send hands v to the receiver, blocking until it is taken. It returns false
// when v could not be delivered because the stream or the receiver is closed.
func (tx *Sender[T]) Send(v T) bool {
	if tx.released.Load() {
		return false
	}
	select {
	case <-tx.s.closed:
		return false
	case <-tx.s.gone:
		return false
	default:
	}

	select {
	case tx.s.ch <- v:
		return true
	case <-tx.s.closed:
		return false
	case <-tx.s.gone:
		return false
	}
}

// Clone returns another producer handle for the same stream.
func (tx *Sender[T]) Clone() *Sender[T] {
	tx.s.producers.Add(1)
	return &Sender[T]{s: tx.s}
}

// Close releases this producer handle. The stream ends when every handle has
// been closed. Closing twice is a no-op.
func (tx *Sender[T]) Close() {
	if !tx.released.CompareAndSwap(false, true) {
		return
	}
	if tx.s.producers.Add(-1) == 0 {
		tx.s.closeOnce.Do(func() { close(tx.s.closed) })
	}
}

// ReceiverGone reports whether the consumer has been dropped.
func (tx *Sender[T]) ReceiverGone() bool {
	select {
	case <-tx.s.gone:
		return true
	default:
		return false
	}
}

// Recv blocks until the next value arrives. ok is false at end-of-stream.
func (rx *Receiver[T]) Recv() (v T, ok bool) {
	select {
	case v = <-rx.s.ch:
		return v, true
	case <-rx.s.closed:
		var zero T
		return zero, false
	case <-rx.s.gone:
		var zero T
		return zero, false
	}
}

// RecvContext is the cancellable form of Recv. It returns ErrClosed at
// end-of-stream and ctx.Err() when ctx finishes first.
func (rx *Receiver[T]) RecvContext(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-rx.s.ch:
		return v, nil
	case <-rx.s.closed:
		return zero, ErrClosed
	case <-rx.s.gone:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryRecv takes a value only if a producer is already waiting.
func (rx *Receiver[T]) TryRecv() (v T, ok bool) {
	select {
	case v = <-rx.s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// All yields values until end-of-stream; breaking out of the loop does not
// close the receiver.
func (rx *Receiver[T]) All() func(yield func(T) bool) {
	return func(yield func(T) bool) {
		for {
			v, ok := rx.Recv()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Close drops the consumer; blocked and future Sends return false.
func (rx *Receiver[T]) Close() {
	rx.s.goneOnce.Do(func() { close(rx.s.gone) })
}

// Done is closed when the last producer has gone.
func (rx *Receiver[T]) Done() <-chan struct{} {
	return rx.s.closed
}
