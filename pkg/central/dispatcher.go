package central

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
)

type unit struct {
	name string
	fn   func()
}

// dispatcher is the serial execution context of a manager: one worker
// goroutine draining an unbounded FIFO of units. Every native call and every
// native callback runs on it.
type dispatcher struct {
	logger *logrus.Logger

	mu      sync.Mutex
	pending []unit
	stopped bool

	wake   chan struct{} // cap 1; coalesces wake-ups
	quit   chan struct{}
	exited <-chan struct{}

	workerID uint64 // set once by the worker before the first unit runs
	ready    chan struct{}
}

var _ native.Queue = (*dispatcher)(nil)

func newDispatcher(logger *logrus.Logger) *dispatcher {
	d := &dispatcher{
		logger: logger,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	d.exited = groutine.Go(context.Background(), "ble-dispatch", d.run)
	<-d.ready
	return d
}

func (d *dispatcher) run(ctx context.Context) {
	d.workerID = groutine.ID()
	close(d.ready)
	defer d.logger.Debugf("%s: exiting", groutine.Name(ctx))

	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.stopped || len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			u := d.pending[0]
			d.pending[0] = unit{}
			d.pending = d.pending[1:]
			d.mu.Unlock()

			d.exec(u)
		}
	}
}

func (d *dispatcher) exec(u unit) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"unit":  u.name,
				"panic": r,
			}).Error("Dispatcher: unit panicked")
		}
	}()
	u.fn()
}

// Submit enqueues fn and returns at once. Units run in submission order.
func (d *dispatcher) Submit(name string, fn func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.WithField("unit", name).Debug("Dispatcher: stopped, unit discarded")
		return false
	}
	d.pending = append(d.pending, unit{name: name, fn: fn})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the worker and waits for it. On the worker itself fn runs
// inline. It reports false when fn did not run because the dispatcher stopped.
func (d *dispatcher) Do(name string, fn func()) bool {
	if d.onWorker() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			return false
		}
		d.exec(unit{name: name, fn: fn})
		return true
	}

	done := make(chan struct{})
	if !d.Submit(name, func() {
		defer close(done)
		fn()
	}) {
		return false
	}

	select {
	case <-done:
		return true
	case <-d.exited:
		// The unit may have been dropped by shutdown.
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func (d *dispatcher) onWorker() bool {
	return groutine.ID() == d.workerID
}

// shutdown discards pending units and stops the worker. Called off the
// worker it waits for the unit in flight to finish.
func (d *dispatcher) shutdown() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	dropped := len(d.pending)
	d.pending = nil
	d.mu.Unlock()

	if dropped > 0 {
		d.logger.WithField("dropped", dropped).Debug("Dispatcher: pending units dropped on shutdown")
	}
	close(d.quit)
	if !d.onWorker() {
		<-d.exited
	}
}
