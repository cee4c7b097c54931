// File: internal/concurrency/executor.go
// Package concurrency implements the worker-side event scheduler.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches two-phase tasks across worker goroutines. Tasks are
// routed by key so events of one connection stay FIFO on one worker. Every
// worker owns a bounded FIFO; a full FIFO rejects the submission instead of
// blocking the submitter.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
)

// Ensure compile-time interface compliance.
var _ api.Scheduler = (*Executor)(nil)

// Config tunes an Executor.
type Config struct {
	Workers    int // worker goroutines, <= 0 means runtime.NumCPU()
	QueueDepth int // per-worker backlog before submissions are rejected
}

// DefaultConfig returns defaults suitable for a small server.
func DefaultConfig() *Config {
	return &Config{
		Workers:    runtime.NumCPU(),
		QueueDepth: 1024,
	}
}

// Executor manages a pool of worker goroutines.
type Executor struct {
	workers []*worker
	depth   int
	closed  atomic.Bool
	rr      atomic.Uint64 // round-robin cursor for keyless tasks
	log     zerolog.Logger
	wg      sync.WaitGroup

	// statistics
	submitted atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// NewExecutor starts the workers described by cfg.
func NewExecutor(cfg *Config, log zerolog.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	n := cfg.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1024
	}
	e := &Executor{
		workers: make([]*worker, n),
		depth:   depth,
		log:     log.With().Str("component", "executor").Logger(),
	}
	for i := range e.workers {
		w := &worker{id: i, executor: e, fifo: queue.New()}
		w.cond = sync.NewCond(&w.mu)
		e.workers[i] = w
	}
	e.wg.Add(n)
	for _, w := range e.workers {
		go w.run()
	}
	return e
}

// Submit enqueues t on the worker selected by t.Key.
func (e *Executor) Submit(t api.Task) bool {
	if e.closed.Load() {
		e.rejected.Add(1)
		return false
	}
	key := t.Key
	if key == 0 {
		key = e.rr.Add(1)
	}
	w := e.workers[key%uint64(len(e.workers))]

	w.mu.Lock()
	if w.stopping || w.fifo.Length() >= e.depth {
		w.mu.Unlock()
		e.rejected.Add(1)
		return false
	}
	w.fifo.Add(t)
	w.mu.Unlock()
	w.cond.Signal()
	e.submitted.Add(1)
	return true
}

// NumWorkers returns the number of worker goroutines.
func (e *Executor) NumWorkers() int {
	return len(e.workers)
}

// Pending returns the number of accepted tasks not yet completed.
func (e *Executor) Pending() int64 {
	return e.submitted.Load() - e.completed.Load()
}

// Close stops accepting tasks, lets workers drain what was accepted, and
// waits for them to exit. Accepted tasks always run to completion.
func (e *Executor) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	for _, w := range e.workers {
		w.mu.Lock()
		w.stopping = true
		w.mu.Unlock()
		w.cond.Broadcast()
	}
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"submitted_tasks": e.submitted.Load(),
		"rejected_tasks":  e.rejected.Load(),
		"completed_tasks": e.completed.Load(),
		"pending_tasks":   e.Pending(),
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.NumWorkers()),
	}
}

// worker represents a single executor goroutine.
type worker struct {
	id       int
	executor *Executor
	mu       sync.Mutex
	cond     *sync.Cond
	fifo     *queue.Queue
	stopping bool
}

func (w *worker) run() {
	defer w.executor.wg.Done()
	for {
		w.mu.Lock()
		for w.fifo.Length() == 0 && !w.stopping {
			w.cond.Wait()
		}
		if w.fifo.Length() == 0 {
			w.mu.Unlock()
			return
		}
		t := w.fifo.Remove().(api.Task)
		w.mu.Unlock()
		w.execute(t)
	}
}

// execute runs both phases; a panic in Pre never skips Post.
func (w *worker) execute(t api.Task) {
	defer w.executor.completed.Add(1)
	w.guard(t.Tag, "pre", t.Pre)
	w.guard(t.Tag, "post", t.Post)
}

func (w *worker) guard(tag, phase string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.executor.panics.Add(1)
			w.executor.log.Error().
				Int("worker", w.id).
				Str("task", tag).
				Str("phase", phase).
				Interface("panic", r).
				Msg("task panicked")
		}
	}()
	fn()
}
