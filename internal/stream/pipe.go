// Package stream decouples notification producers from a slow output
// writer through a byte ring buffer.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blecentral/internal/groutine"
)

const chunkSize = 4096

// Pipe buffers bytes pushed by one goroutine and writes them to out from a
// pump goroutine. Push never blocks: bytes that do not fit are dropped and
// counted.
//
//	p := stream.NewPipe(os.Stdout, 64*1024, logger)
//	p.Push(value)
//	err := p.Close() // flushes
type Pipe struct {
	buf    *ringbuffer.RingBuffer
	out    io.Writer
	logger *logrus.Logger

	wake   chan struct{}
	cancel context.CancelFunc
	done   <-chan struct{}

	closeOnce sync.Once
	writeErr  error // set by the pump before done closes

	written atomic.Uint64
	dropped atomic.Uint64
}

func NewPipe(out io.Writer, capacity int, logger *logrus.Logger) *Pipe {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipe{
		buf:    ringbuffer.New(capacity),
		out:    out,
		logger: logger,
		wake:   make(chan struct{}, 1),
		cancel: cancel,
	}
	p.done = groutine.Go(ctx, "stream-pump", p.pump)
	return p
}

// Push buffers data and returns how many bytes were accepted.
func (p *Pipe) Push(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n, err := p.buf.Write(data)
	if n < len(data) {
		lost := len(data) - n
		p.dropped.Add(uint64(lost))
		p.logger.WithFields(logrus.Fields{
			"dropped":  lost,
			"received": len(data),
			"error":    err,
		}).Warn("Stream buffer overflow")
	}
	if n > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return n
}

func (p *Pipe) pump(ctx context.Context) {
	for {
		select {
		case <-p.wake:
			if !p.flush() {
				return
			}
		case <-ctx.Done():
			p.flush()
			return
		}
	}
}

// flush drains the buffer into out. It reports false once out failed.
func (p *Pipe) flush() bool {
	tmp := make([]byte, chunkSize)
	for {
		n, err := p.buf.Read(tmp)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			return true
		}
		if _, werr := p.out.Write(tmp[:n]); werr != nil {
			p.writeErr = werr
			p.logger.WithError(werr).Error("Stream output failed")
			return false
		}
		p.written.Add(uint64(n))
	}
}

// Close flushes what is buffered, stops the pump and returns the first
// output error.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		<-p.done
	})
	return p.writeErr
}

// Written and Dropped count bytes delivered to out and lost to overflow.
func (p *Pipe) Written() uint64 { return p.written.Load() }
func (p *Pipe) Dropped() uint64 { return p.dropped.Load() }
