// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop is the serialized owner context of a transport stack. Functions posted
// to it run one at a time on a single goroutine, in posting order. I/O
// goroutines use Post to raise transport hooks; callers use Call to marshal a
// mutating operation and wait for its result.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
)

// Config tunes a Loop.
type Config struct {
	// TickInterval drives periodic tick callbacks (transport poll).
	TickInterval time.Duration
	// BatchSize bounds how many posted functions run between checks for
	// ticks and stop requests.
	BatchSize int
}

// DefaultConfig returns the defaults: a 500ms tick, matching the coarse
// poll timer of embedded TCP stacks.
func DefaultConfig() *Config {
	return &Config{
		TickInterval: 500 * time.Millisecond,
		BatchSize:    64,
	}
}

// Loop runs posted functions on one goroutine.
type Loop struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	fifo   *queue.Queue
	closed bool
	ticks  []func()

	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	running atomic.Int32

	executed atomic.Int64
}

// New creates a stopped Loop. Call Start or Run to begin processing.
func New(cfg *Config, log zerolog.Logger) *Loop {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	return &Loop{
		cfg:    c,
		log:    log.With().Str("component", "loop").Logger(),
		fifo:   queue.New(),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the loop on a new goroutine. Only the first Start or Run has
// any effect.
func (l *Loop) Start() {
	if l.running.CompareAndSwap(0, 1) {
		go l.loop()
	}
}

// Run processes posted functions on the calling goroutine until Stop is
// called. Only the first Start or Run has any effect.
func (l *Loop) Run() {
	if l.running.CompareAndSwap(0, 1) {
		l.loop()
	}
}

func (l *Loop) loop() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if l.drain(l.cfg.BatchSize) == l.cfg.BatchSize {
			// more may be pending, yield to tick/stop checks only
			select {
			case <-l.stopCh:
				l.shutdown()
				return
			case <-ticker.C:
				l.runTicks()
			default:
			}
			continue
		}
		select {
		case <-l.stopCh:
			l.shutdown()
			return
		case <-ticker.C:
			l.runTicks()
		case <-l.wake:
		}
	}
}

// Stop closes the mailbox, runs what was already posted, and waits for the
// loop goroutine to exit. Safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	already := l.closed
	l.closed = true
	l.mu.Unlock()
	if already {
		<-l.doneIfStarted()
		return
	}
	close(l.stopCh)
	<-l.doneIfStarted()
}

func (l *Loop) doneIfStarted() <-chan struct{} {
	if l.running.Load() == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return l.done
}

// Post schedules fn on the loop without waiting. It fails with
// api.ErrLoopClosed after Stop.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return api.ErrLoopClosed
	}
	l.fifo.Add(fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call runs fn on the loop and returns its result, blocking until it ran.
// It must not be called from the loop goroutine.
func (l *Loop) Call(fn func() error) error {
	res := make(chan error, 1)
	if err := l.Post(func() { res <- l.protect(fn) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-l.done:
		// the loop may have run fn just before exiting
		select {
		case err := <-res:
			return err
		default:
			return api.ErrLoopClosed
		}
	}
}

// OnTick registers fn to run on the loop every TickInterval.
func (l *Loop) OnTick(fn func()) {
	l.mu.Lock()
	l.ticks = append(l.ticks, fn)
	l.mu.Unlock()
}

// Pending returns the number of posted functions not yet run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fifo.Length()
}

// Executed returns the number of posted functions run so far.
func (l *Loop) Executed() int64 {
	return l.executed.Load()
}

func (l *Loop) drain(limit int) int {
	n := 0
	for n < limit {
		l.mu.Lock()
		if l.fifo.Length() == 0 {
			l.mu.Unlock()
			break
		}
		fn := l.fifo.Remove().(func())
		l.mu.Unlock()
		l.run(fn)
		n++
	}
	return n
}

func (l *Loop) shutdown() {
	for l.drain(l.cfg.BatchSize) > 0 {
	}
}

func (l *Loop) runTicks() {
	l.mu.Lock()
	ticks := l.ticks
	l.mu.Unlock()
	for _, fn := range ticks {
		l.run(fn)
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("posted function panicked")
		}
	}()
	l.executed.Add(1)
	fn()
}

func (l *Loop) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reactor: call panicked: %v", r)
		}
	}()
	return fn()
}
