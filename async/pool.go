// File: async/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool recycles listener-side connections on a lock-free free-list. A Conn
// is on the list iff it is Pooled.

package async

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
)

// DefaultCleanInterval is how long a pool must stay idle before it shrinks.
const DefaultCleanInterval = 30 * time.Second

// Pool hands out Conns for accepted handles.
type Pool struct {
	env  *Env
	log  zerolog.Logger
	free pool.FreeList[*Conn]

	created   atomic.Int64
	allocated atomic.Int64
	cleaned   atomic.Int64

	onClean  slot[func()]
	interval time.Duration
	timer    *time.Timer
	armed    atomic.Bool
	lastUse  atomic.Int64
	closed   atomic.Bool

	pushed func(*Conn) // observes every Conn returned to the free-list
}

// NewPool creates an empty pool. A non-positive cleanInterval selects
// DefaultCleanInterval.
func NewPool(env *Env, cleanInterval time.Duration) *Pool {
	if cleanInterval <= 0 {
		cleanInterval = DefaultCleanInterval
	}
	env = env.normalized()
	p := &Pool{
		env:      env,
		log:      env.Logger.With().Str("component", "pool").Logger(),
		interval: cleanInterval,
	}
	p.timer = time.AfterFunc(cleanInterval, p.idle)
	p.timer.Stop()
	return p
}

// Allocate pops a pooled Conn or constructs one.
func (p *Pool) Allocate() *Conn {
	p.touch()
	p.allocated.Add(1)
	p.env.Metrics.Add("pool_allocated", 1)
	if c, ok := p.free.Pop(); ok {
		return c
	}
	p.created.Add(1)
	p.env.Metrics.Add("pool_constructed", 1)
	return newConn(p.env, p)
}

// Recycle returns a Pooled Conn. Conns recycled after Close are dropped.
func (p *Pool) Recycle(c *Conn) {
	if p.closed.Load() {
		return
	}
	if p.pushed != nil {
		p.pushed(c)
	}
	p.free.Push(c)
}

// seed makes sure at least one Conn is pooled.
func (p *Pool) seed() {
	if p.free.Len() > 0 {
		return
	}
	c := newConn(p.env, p)
	c.life.v.Store(int32(StatePooled))
	p.created.Add(1)
	p.env.Metrics.Add("pool_constructed", 1)
	p.free.Push(c)
}

// OnClean sets the handler run once per Clean pass.
func (p *Pool) OnClean(fn func()) { p.onClean.set(fn) }

// Clean empties the free-list, keeping one Conn unless all is set, and
// returns how many Conns were dropped.
func (p *Pool) Clean(all bool) int {
	nodes := p.free.PopAll()
	if fn := p.onClean.get(); fn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error().Interface("panic", r).Msg("clean handler panicked")
				}
			}()
			fn()
		}()
	}
	dropped := len(nodes)
	if !all && len(nodes) > 0 {
		p.free.Push(nodes[0])
		dropped--
	}
	p.cleaned.Add(int64(dropped))
	p.env.Metrics.Add("pool_cleaned", int64(dropped))
	p.log.Debug().Int("dropped", dropped).Bool("all", all).Msg("pool cleaned")
	return dropped
}

// Close stops the idle timer and drops Conns recycled from now on.
func (p *Pool) Close() {
	p.closed.Store(true)
	p.timer.Stop()
}

// Free returns the number of pooled Conns.
func (p *Pool) Free() int { return p.free.Len() }

// Created returns how many Conns the pool constructed.
func (p *Pool) Created() int64 { return p.created.Load() }

// Allocated returns how many Allocate calls were served.
func (p *Pool) Allocated() int64 { return p.allocated.Load() }

// Stats returns pool counters.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"free":      int64(p.Free()),
		"created":   p.created.Load(),
		"allocated": p.allocated.Load(),
		"cleaned":   p.cleaned.Load(),
	}
}

// touch records use and arms the idle timer if it is not running.
func (p *Pool) touch() {
	p.lastUse.Store(int64(api.SystemClock{}.Now()))
	if !p.closed.Load() && p.armed.CompareAndSwap(false, true) {
		p.timer.Reset(p.interval)
	}
}

func (p *Pool) idle() {
	if p.closed.Load() {
		return
	}
	since := api.SystemClock{}.Now() - time.Duration(p.lastUse.Load())
	if since < p.interval {
		p.timer.Reset(p.interval - since)
		return
	}
	p.armed.Store(false)
	p.Clean(false)
}
