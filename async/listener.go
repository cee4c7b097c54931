// File: async/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package async

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-tcp/api"
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Addr    netip.Addr
	Port    uint16
	Backlog int
	// NoDelay is applied to every accepted connection.
	NoDelay bool
	// CleanInterval is the pool idle time before it shrinks.
	CleanInterval time.Duration
	// AcceptRate limits accepted connections per second, 0 disables.
	AcceptRate float64
	// AcceptBurst is the limiter bucket size, at least 1.
	AcceptBurst int
}

// DefaultListenerConfig listens on all IPv4 addresses.
func DefaultListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		Addr:          netip.IPv4Unspecified(),
		Backlog:       128,
		CleanInterval: DefaultCleanInterval,
	}
}

// Listener accepts inbound connections into pooled Conns.
type Listener struct {
	env     *Env
	cfg     ListenerConfig
	pool    *Pool
	log     zerolog.Logger
	limiter *rate.Limiter

	onConnect slot[ConnectedHandler]
	noDelay   atomic.Bool

	mu     sync.Mutex
	handle api.Handle
	addr   netip.AddrPort
}

// NewListener creates a stopped listener.
func NewListener(env *Env, cfg *ListenerConfig) *Listener {
	if cfg == nil {
		cfg = DefaultListenerConfig()
	}
	env = env.normalized()
	l := &Listener{
		env:  env,
		cfg:  *cfg,
		pool: NewPool(env, cfg.CleanInterval),
		log:  env.Logger.With().Str("component", "listener").Logger(),
	}
	if !l.cfg.Addr.IsValid() {
		l.cfg.Addr = netip.IPv4Unspecified()
	}
	if cfg.AcceptRate > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), max(cfg.AcceptBurst, 1))
	}
	l.noDelay.Store(cfg.NoDelay)
	return l
}

// OnConnect sets the handler run for every accepted connection. Handlers of
// the connection are best registered from inside it.
func (l *Listener) OnConnect(fn ConnectedHandler) { l.onConnect.set(fn) }

// OnClean sets the handler run on every pool clean pass.
func (l *Listener) OnClean(fn func()) { l.pool.OnClean(fn) }

// SetNoDelay sets the no-delay policy for connections accepted from now on.
func (l *Listener) SetNoDelay(on bool) { l.noDelay.Store(on) }

// NoDelay returns the no-delay policy.
func (l *Listener) NoDelay() bool { return l.noDelay.Load() }

// Pool returns the connection pool.
func (l *Listener) Pool() *Pool { return l.pool }

// Addr returns the bound address; the port is the one chosen by the stack
// when Port was 0.
func (l *Listener) Addr() netip.AddrPort {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Begin binds, seeds the pool and starts accepting.
func (l *Listener) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != nil {
		return fmt.Errorf("async: listener already started on %s: %w", l.addr, api.ErrAlreadyConnected)
	}
	target := netip.AddrPortFrom(l.cfg.Addr, l.cfg.Port)

	h, err := l.env.Stack.NewHandle()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", api.ErrBindFailed, target, err)
	}
	err = l.env.Stack.Call(func() error {
		if err := h.Bind(l.cfg.Addr, l.cfg.Port); err != nil {
			h.Abort()
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", api.ErrBindFailed, target, err)
	}

	l.pool.seed()

	var bound netip.AddrPort
	err = l.env.Stack.Call(func() error {
		if err := h.Listen(l.cfg.Backlog); err != nil {
			h.Abort()
			return err
		}
		h.SetAcceptHook(l.accept)
		bound = h.LocalAddr()
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", api.ErrListenFailed, target, err)
	}
	l.handle = h
	l.addr = bound
	l.log.Info().Stringer("addr", bound).Msg("listening")
	return nil
}

// accept runs on the loop for every inbound handle. A returned error makes
// the stack abort h.
func (l *Listener) accept(h api.Handle, code api.ErrorCode) error {
	if code != api.ErrCodeOK || h == nil {
		if h != nil {
			h.Abort()
		}
		l.env.Metrics.Add("accept_errors", 1)
		l.log.Error().Stringer("code", code).Msg("accept failed")
		if code == api.ErrCodeOK {
			return api.ErrCodeArg.Err()
		}
		return code.Err()
	}
	if l.limiter != nil && !l.limiter.Allow() {
		h.Abort()
		l.env.Metrics.Add("accept_throttled", 1)
		l.log.Warn().Stringer("remote", h.RemoteAddr()).Msg("accept throttled")
		return api.ErrResourceExhausted
	}

	c := l.pool.Allocate()
	c.noDelay.Store(l.noDelay.Load())
	if !c.initialize(h) {
		l.log.Error().Str("state", c.Lifecycle().String()).Msg("pooled connection not reusable")
		if c.Lifecycle() == StatePooled {
			l.pool.Recycle(c)
		}
		return api.ErrAllocationFailed
	}
	l.env.Metrics.Add("accepted", 1)

	fn := l.onConnect.get()
	if fn == nil {
		return nil
	}
	c.pending.Add(1)
	if c.submitHeld(&event{kind: api.EventConnected, accepted: fn}) {
		return nil
	}
	c.pending.Add(-1)
	c.abandonOnLoop()
	return api.ErrResourceExhausted
}

// End stops accepting and closes the listening handle.
func (l *Listener) End() error {
	l.mu.Lock()
	h := l.handle
	l.handle = nil
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	err := l.env.Stack.Call(func() error {
		h.SetAcceptHook(nil)
		if err := h.Close(); err != nil {
			h.Abort()
		}
		return nil
	})
	l.log.Info().Msg("listener stopped")
	return err
}

// Shutdown ends the listener and drops every pooled connection.
func (l *Listener) Shutdown() error {
	err := l.End()
	l.pool.Close()
	l.pool.Clean(true)
	return err
}
