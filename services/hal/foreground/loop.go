// services/hal/foreground/loop.go
//
// Package foreground runs the cooperative service loop: every tick it
// calls each registered task once, in registration order. Tasks must not
// block. Work from other goroutines is handed to the loop with Do so that
// everything touching the transports runs on one goroutine.
package foreground

import (
	"context"
	"sync/atomic"
	"time"

	"benchio/errcode"
	"benchio/x/timex"

	"go.uber.org/zap"
)

// DefaultHz services the USB transport once per millisecond.
const DefaultHz = 1000

const callQueueLen = 8

type task struct {
	name string
	fn   func()
}

type call struct {
	fn   func()
	done chan struct{}
}

type Loop struct {
	period time.Duration
	tasks  []task
	calls  chan call
	log    *zap.Logger

	running  atomic.Bool
	ticks    atomic.Uint64
	overruns atomic.Uint64
}

// New returns a loop ticking at hz (0 selects DefaultHz).
func New(hz uint32, log *zap.Logger) *Loop {
	if hz == 0 {
		hz = DefaultHz
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		period: timex.Period(hz),
		calls:  make(chan call, callQueueLen),
		log:    log.With(zap.String("component", "foreground")),
	}
}

func (l *Loop) Period() time.Duration { return l.period }

// Add registers a task. Tasks are fixed once Run starts.
func (l *Loop) Add(name string, fn func()) error {
	if fn == nil {
		return errcode.New(errcode.InvalidArgument, "foreground.add", "nil task "+name)
	}
	if l.running.Load() {
		return errcode.New(errcode.ResourceBusy, "foreground.add", "loop already running")
	}
	l.tasks = append(l.tasks, task{name: name, fn: fn})
	return nil
}

// Step runs every task once. Run calls it each tick; tests call it
// directly.
func (l *Loop) Step() {
	for i := range l.tasks {
		l.tasks[i].fn()
	}
	l.ticks.Add(1)
}

// Run ticks until ctx is cancelled and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errcode.New(errcode.ResourceBusy, "foreground.run", "loop already running")
	}
	defer l.running.Store(false)

	t := time.NewTicker(l.period)
	defer t.Stop()
	l.log.Info("loop started", zap.Duration("period", l.period), zap.Int("tasks", len(l.tasks)))
	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped", zap.Uint64("ticks", l.ticks.Load()), zap.Uint64("overruns", l.overruns.Load()))
			return ctx.Err()
		case c := <-l.calls:
			c.fn()
			close(c.done)
		case <-t.C:
			start := time.Now()
			l.Step()
			if time.Since(start) > l.period {
				l.overruns.Add(1)
			}
		}
	}
}

// Do runs fn on the loop goroutine between ticks and waits for it. It
// returns ctx.Err() if ctx ends first; fn may still run later in that
// case.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case l.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ticks counts completed steps.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Overruns counts ticks whose tasks took longer than the period.
func (l *Loop) Overruns() uint64 { return l.overruns.Load() }
