// File: facade/hioload.go
// Unified facade layer for hioload-tcp.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime aggregates the components of one connection runtime behind a
// single facade: the reactor loop that owns the TCP stack, the executor that
// runs application handlers, the resolver, and the control adapter that
// collects metrics and debug probes. Connections and listeners created by a
// Runtime share these collaborators.

package facade

import (
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/adapters"
	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/async"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/internal/concurrency"
	"github.com/momentics/hioload-tcp/reactor"
	"github.com/momentics/hioload-tcp/transport/tcp"
)

// Runtime is the main facade type.
type Runtime struct {
	cfg *control.Config
	log zerolog.Logger

	loop     *reactor.Loop
	stack    *tcp.Stack
	executor *concurrency.Executor
	control  *adapters.ControlAdapter
	env      *async.Env

	mu        sync.Mutex
	listeners []*async.Listener
	closed    bool
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Runtime)(nil)

// New validates cfg and starts the loop and the executor. A nil cfg takes
// control.DefaultConfig.
func New(cfg *control.Config, log zerolog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runtime{cfg: cfg, log: log}

	r.control = adapters.NewControlAdapter(log)
	if err := r.control.SetConfig(cfg.Flatten()); err != nil {
		return nil, err
	}

	r.loop = reactor.New(&reactor.Config{
		TickInterval: cfg.Loop.TickInterval.Duration,
		BatchSize:    cfg.Loop.BatchSize,
	}, log)
	r.stack = tcp.NewStack(r.loop, &tcp.Config{
		SendBuffer:     cfg.TCP.SendBuffer,
		RecvWindow:     cfg.TCP.RecvWindow,
		ReadBufferSize: cfg.TCP.ReadBufferSize,
		WriteQueue:     cfg.TCP.WriteQueue,
		MaxHandles:     cfg.TCP.MaxHandles,
		ConnectTimeout: cfg.TCP.ConnectTimeout.Duration,
		CloseTimeout:   cfg.TCP.CloseTimeout.Duration,
	}, log)
	r.executor = concurrency.NewExecutor(&concurrency.Config{
		Workers:    cfg.Executor.Workers,
		QueueDepth: cfg.Executor.QueueDepth,
	}, log)
	r.env = &async.Env{
		Stack:     r.stack,
		Scheduler: r.executor,
		Resolver:  tcp.NewResolver(net.DefaultResolver),
		Metrics:   r.control,
		Logger:    &r.log,
	}
	r.registerProbes()
	r.loop.Start()

	log.Info().
		Int("workers", r.executor.NumWorkers()).
		Dur("tick", cfg.Loop.TickInterval.Duration).
		Msg("runtime started")
	return r, nil
}

func (r *Runtime) registerProbes() {
	r.control.RegisterDebugProbe("tcp.live", func() any { return r.stack.Live() })
	r.control.RegisterDebugProbe("tcp.buffers_in_use", func() any { return r.stack.BuffersInUse() })
	r.control.RegisterDebugProbe("loop.pending", func() any { return r.loop.Pending() })
	r.control.RegisterDebugProbe("loop.executed", func() any { return r.loop.Executed() })
	r.control.RegisterDebugProbe("executor", func() any { return r.executor.Stats() })
	r.control.RegisterDebugProbe("listeners", func() any {
		r.mu.Lock()
		ls := append([]*async.Listener(nil), r.listeners...)
		r.mu.Unlock()
		out := make(map[string]map[string]int64, len(ls))
		for _, l := range ls {
			out[l.Addr().String()] = l.Pool().Stats()
		}
		return out
	})
}

// Config returns the configuration the runtime was built with.
func (r *Runtime) Config() *control.Config { return r.cfg }

// Control returns the control interface.
func (r *Runtime) Control() api.Control { return r.control }

// Env returns the collaborators shared by connections of this runtime.
func (r *Runtime) Env() *async.Env { return r.env }

// NewConn creates a standalone outgoing connection.
func (r *Runtime) NewConn() *async.Conn {
	return async.NewConn(r.env)
}

// NewListener creates a stopped listener. A nil lc is derived from the
// listener section of the configuration.
func (r *Runtime) NewListener(lc *async.ListenerConfig) (*async.Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, api.ErrLoopClosed
	}
	if lc == nil {
		lc = r.listenerConfig()
	}
	l := async.NewListener(r.env, lc)
	r.listeners = append(r.listeners, l)
	return l, nil
}

func (r *Runtime) listenerConfig() *async.ListenerConfig {
	ap := r.cfg.ListenAddr()
	return &async.ListenerConfig{
		Addr:          ap.Addr(),
		Port:          ap.Port(),
		Backlog:       r.cfg.Listener.Backlog,
		NoDelay:       r.cfg.Listener.NoDelay,
		CleanInterval: r.cfg.Listener.CleanInterval.Duration,
		AcceptRate:    r.cfg.Listener.AcceptRate,
		AcceptBurst:   r.cfg.Listener.AcceptBurst,
	}
}

// Shutdown stops listeners, aborts remaining handles, drains the executor
// and stops the loop. Safe to call more than once.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ls := r.listeners
	r.listeners = nil
	r.mu.Unlock()

	var firstErr error
	for _, l := range ls {
		if err := l.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.stack.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	r.executor.Close()
	r.loop.Stop()
	r.log.Info().Msg("runtime stopped")
	return firstErr
}
