package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/blecentral/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressPrinter redraws one status line while a long operation runs:
//
//	Scanning for BLE peripherals (Scanning 7s)
//
// A positive duration counts down, zero counts up. Phases listed as stop
// phases end the display when reported through Callback.
//
//	p := newProgressPrinter(os.Stderr, "Scanning for BLE peripherals", "Scanning", 10*time.Second, "Processing results")
//	p.Start()
//	defer p.Stop()
type progressPrinter struct {
	out        io.Writer
	prefix     string
	duration   time.Duration
	stopPhases map[string]struct{}

	phase   atomic.Value // string
	started time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      <-chan struct{}
}

func newProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, stopPhases ...string) *progressPrinter {
	p := &progressPrinter{
		out:        out,
		prefix:     prefix,
		duration:   duration,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

// Start begins redrawing on a background goroutine. Later calls do nothing.
func (p *progressPrinter) Start() {
	p.startOnce.Do(func() {
		p.started = time.Now()
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.draw(p.phase.Load().(string), 0)
		p.done = groutine.Go(ctx, "progress", p.loop)
	})
}

func (p *progressPrinter) loop(ctx context.Context) {
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			p.draw(phase, p.seconds())
		}
	}
}

func (p *progressPrinter) seconds() int {
	elapsed := time.Since(p.started)
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second, e.g. 3.7s -> 4s
	return int(remaining.Seconds() + 0.5)
}

func (p *progressPrinter) draw(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a phase-change callback; a stop phase stops the display.
// Safe to call from any goroutine.
func (p *progressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop ends the display and clears the line. Safe to call more than once.
func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}
