// File: async/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is the per-socket state of the lifecycle engine. Methods whose name
// ends in OnLoop, the raw hooks and initialize run on the transport owner
// goroutine; everything else may be called from any goroutine except that
// one.

package async

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/nats-io/nuid"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
)

var connKeys atomic.Uint64

type handleSlot struct {
	h api.Handle
}

// Conn is an asynchronous TCP connection.
type Conn struct {
	env   *Env
	owner *Pool // nil for standalone connections
	log   zerolog.Logger
	key   uint64
	hooks *api.Hooks

	id      atomic.Value // string, per handle lifetime
	handle  atomic.Pointer[handleSlot]
	life    lifecycle
	send    atomic.Int32
	pending atomic.Int64

	lastRx, lastTx        atomic.Int64
	rxTimeout, ackTimeout atomic.Int64
	noDelay, deferAck     atomic.Bool
	unacked               atomic.Int64

	handlers handlerTable
}

// NewConn creates a standalone connection for outgoing use.
func NewConn(env *Env) *Conn {
	return newConn(env.normalized(), nil)
}

func newConn(env *Env, owner *Pool) *Conn {
	c := &Conn{
		env:   env,
		owner: owner,
		log:   env.Logger.With().Str("component", "conn").Logger(),
		key:   connKeys.Add(1),
	}
	c.id.Store("")
	c.hooks = &api.Hooks{
		OnReceive:   c.onReceive,
		OnSent:      c.onSent,
		OnError:     c.onError,
		OnPoll:      c.onPoll,
		OnConnected: c.onConnected,
	}
	return c
}

// initialize binds h to c and activates it. Runs on the loop and requires
// that no events are pending.
func (c *Conn) initialize(h api.Handle) bool {
	from := c.life.load()
	if from != StateUninitialized && from != StatePooled {
		return false
	}
	if p := c.pending.Load(); p != 0 {
		c.log.Warn().Int64("pending", p).Msg("initializing connection with events in flight")
	}
	c.id.Store(nuid.Next())
	now := int64(c.env.Clock.Now())
	c.lastRx.Store(now)
	c.lastTx.Store(now)
	c.unacked.Store(0)
	c.handle.Store(&handleSlot{h: h})
	h.SetNoDelay(c.noDelay.Load())
	h.SetHooks(c.hooks)
	c.send.Store(int32(SendReady))
	if !c.life.transition(from, StateActive) {
		h.SetHooks(nil)
		c.handle.Store(nil)
		return false
	}
	c.log.Debug().Str("conn_id", c.ID()).Msg("connection active")
	return true
}

// Connect starts an outgoing connection. A nil result means the request was
// accepted; completion is reported to the OnConnected handler and failure to
// the OnError handler.
func (c *Conn) Connect(addr netip.Addr, port uint16) error {
	if c.handle.Load() != nil || c.life.load() != StateUninitialized {
		return api.ErrAlreadyConnected
	}
	h, err := c.env.Stack.NewHandle()
	if err != nil {
		if errors.Is(err, api.ErrAllocationFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", api.ErrAllocationFailed, err)
	}
	target := netip.AddrPortFrom(addr, port)
	err = c.env.Stack.Call(func() error {
		if c.life.load() != StateUninitialized {
			h.Abort()
			return api.ErrAlreadyConnected
		}
		if err := h.Connect(addr, port); err != nil {
			h.Abort()
			return fmt.Errorf("async: connect %s: %w", target, err)
		}
		if !c.initialize(h) {
			h.Abort()
			return api.ErrAlreadyConnected
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.log.Debug().Str("conn_id", c.ID()).Stringer("remote", target).Msg("connect requested")
	return nil
}

// ConnectHost resolves name and connects to it.
func (c *Conn) ConnectHost(ctx context.Context, name string, port uint16) error {
	if c.env.Resolver == nil {
		return fmt.Errorf("%w: %s: no resolver", api.ErrNameResolutionFailed, name)
	}
	addr, err := c.env.Resolver.LookupAddr(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", api.ErrNameResolutionFailed, name, err)
	}
	return c.Connect(addr, port)
}

// Close stops the connection. It is idempotent and returns before the handle
// is released; the OnRecycle handler reports the release.
func (c *Conn) Close() {
	c.pending.Add(1)
	closed := false
	err := c.env.Stack.Call(func() error {
		closed = c.closeOnLoop()
		return nil
	})
	if err != nil {
		// loop is gone, nothing can reach the handle any more
		closed = c.life.transition(StateActive, StateClosing)
	}
	if !closed {
		c.done()
		return
	}
	if !c.submitHeld(&event{kind: api.EventClose}) {
		c.done()
	}
}

// closeOnLoop moves Active -> Closing and silences the raw hooks.
func (c *Conn) closeOnLoop() bool {
	if !c.life.transition(StateActive, StateClosing) {
		return false
	}
	c.send.Store(int32(SendDisabled))
	if h := c.handleOf(); h != nil {
		h.SetHooks(nil)
	}
	c.log.Debug().Str("conn_id", c.ID()).Msg("connection closing")
	return true
}

// SendWindow returns the space available for Add, 0 unless the connection
// is active and established.
func (c *Conn) SendWindow() int {
	if !c.IsActive() {
		return 0
	}
	n := 0
	_ = c.env.Stack.Call(func() error {
		n = c.windowOnLoop()
		return nil
	})
	return n
}

func (c *Conn) windowOnLoop() int {
	h := c.handleOf()
	if h == nil || c.life.load() != StateActive || h.State() != api.TCPStateEstablished {
		return 0
	}
	return h.SendBuffer()
}

// Add queues up to SendWindow bytes of data without sending them. It returns
// the number of bytes queued, 0 on any failure.
func (c *Conn) Add(data []byte, flags api.WriteFlags) int {
	if len(data) == 0 || !c.IsActive() {
		return 0
	}
	n := 0
	err := c.env.Stack.Call(func() error {
		window := c.windowOnLoop()
		if window == 0 {
			return nil
		}
		m := min(len(data), window)
		if err := c.handleOf().Write(data[:m], flags); err != nil {
			return err
		}
		n = m
		return nil
	})
	if err != nil {
		c.log.Debug().Str("conn_id", c.ID()).Err(err).Msg("queue write failed")
		return 0
	}
	return n
}

// Send flushes queued data. It does not wait for acknowledgment.
func (c *Conn) Send() error {
	if !c.IsActive() {
		return api.ErrNotActive
	}
	return c.env.Stack.Call(func() error {
		h := c.handleOf()
		if h == nil || c.life.load() != StateActive {
			return api.ErrNotActive
		}
		prev := c.send.Swap(int32(SendInFlight))
		if err := h.Output(); err != nil {
			c.send.CompareAndSwap(int32(SendInFlight), prev)
			return err
		}
		now := int64(c.env.Clock.Now())
		c.lastTx.Store(now)
		c.lastRx.Store(now)
		return nil
	})
}

// Write queues and flushes data. It returns len queued only if both steps
// succeeded, otherwise 0. Bytes queued before a failed flush stay queued.
func (c *Conn) Write(data []byte, flags api.WriteFlags) int {
	n := c.Add(data, flags)
	if n == 0 {
		return 0
	}
	if err := c.Send(); err != nil {
		c.log.Debug().Str("conn_id", c.ID()).Err(err).Int("queued", n).Msg("flush failed")
		return 0
	}
	return n
}

// Ack acknowledges up to n deferred bytes to the transport and returns how
// many were acknowledged.
func (c *Conn) Ack(n int) int {
	if n <= 0 {
		return 0
	}
	for {
		cur := c.unacked.Load()
		take := min(int64(n), cur)
		if take == 0 {
			return 0
		}
		if c.unacked.CompareAndSwap(cur, cur-take) {
			c.ack(int(take))
			return int(take)
		}
	}
}

// ack reopens the receive window by n bytes.
func (c *Conn) ack(n int) {
	_ = c.env.Stack.Call(func() error {
		if h := c.handleOf(); h != nil {
			h.Recved(n)
		}
		return nil
	})
}

func (c *Conn) flushUnacked() {
	if n := c.unacked.Swap(0); n > 0 {
		c.ack(int(n))
	}
}

// recycle releases the handle once the connection left Active and no event
// is in flight. Exactly one caller per lifetime gets past the CAS.
func (c *Conn) recycle() {
	if c.life.load() != StateClosing {
		return
	}
	if c.pending.Load() != 0 {
		return
	}
	if !c.life.transition(StateClosing, stateReleasing) {
		return
	}
	if fn := c.handlers.recycle.get(); fn != nil {
		c.safely("recycle", func() { fn(c) })
	}
	c.releaseHandle()
	c.finishRelease()
}

func (c *Conn) releaseHandle() {
	slot := c.handle.Swap(nil)
	if slot == nil {
		return
	}
	h := slot.h
	err := c.env.Stack.Call(func() error {
		h.SetHooks(nil)
		if err := h.Close(); err != nil {
			h.Abort()
			return err
		}
		return nil
	})
	if err != nil && !errors.Is(err, api.ErrLoopClosed) {
		c.log.Debug().Str("conn_id", c.ID()).Err(err).Msg("graceful close failed, aborted")
	}
}

// finishRelease completes a release started by the holder of stateReleasing.
func (c *Conn) finishRelease() {
	id := c.ID()
	c.handlers.reset()
	c.rxTimeout.Store(0)
	c.ackTimeout.Store(0)
	c.noDelay.Store(false)
	c.deferAck.Store(false)
	c.unacked.Store(0)
	c.env.Metrics.Add("conns_recycled", 1)
	if c.owner != nil {
		c.life.transition(stateReleasing, StatePooled)
		c.owner.Recycle(c)
	} else {
		c.life.transition(stateReleasing, StateUninitialized)
	}
	c.log.Debug().Str("conn_id", id).Msg("connection recycled")
}

// abandonOnLoop returns a freshly accepted connection to its pool without
// releasing the handle, which stays with the transport.
func (c *Conn) abandonOnLoop() {
	if !c.closeOnLoop() {
		return
	}
	if !c.life.transition(StateClosing, stateReleasing) {
		return
	}
	c.handle.Store(nil)
	c.finishRelease()
}

func (c *Conn) handleOf() api.Handle {
	if s := c.handle.Load(); s != nil {
		return s.h
	}
	return nil
}

// snapshot runs fn on the loop with the current handle, if any.
func (c *Conn) snapshot(fn func(h api.Handle)) {
	_ = c.env.Stack.Call(func() error {
		if h := c.handleOf(); h != nil {
			fn(h)
		}
		return nil
	})
}

func (c *Conn) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("conn_id", c.ID()).Str("handler", what).Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}

// ID returns the identifier of the current handle lifetime.
func (c *Conn) ID() string {
	return c.id.Load().(string)
}

// Lifecycle returns the lifecycle state.
func (c *Conn) Lifecycle() State {
	s := c.life.load()
	if s == stateReleasing {
		return StateClosing
	}
	return s
}

// IsActive reports whether c owns a live handle and was not closed.
func (c *Conn) IsActive() bool {
	return c.life.load() == StateActive
}

// Drainable reports a closed connection with no event in flight.
func (c *Conn) Drainable() bool {
	return c.life.load() == StateClosing && c.pending.Load() == 0
}

// Pending returns the number of events in flight.
func (c *Conn) Pending() int64 {
	return c.pending.Load()
}

// SendState returns the flush state.
func (c *Conn) SendState() SendState {
	return SendState(c.send.Load())
}

// IsSending reports a flush awaiting acknowledgment.
func (c *Conn) IsSending() bool {
	return c.SendState() == SendInFlight
}

// TCPState returns the transport state of the handle.
func (c *Conn) TCPState() api.TCPState {
	st := api.TCPStateClosed
	c.snapshot(func(h api.Handle) { st = h.State() })
	return st
}

// MSS returns the maximum segment size, 0 without a handle.
func (c *Conn) MSS() int {
	n := 0
	c.snapshot(func(h api.Handle) { n = h.MSS() })
	return n
}

// LocalAddr returns the local address and port.
func (c *Conn) LocalAddr() netip.AddrPort {
	var ap netip.AddrPort
	c.snapshot(func(h api.Handle) { ap = h.LocalAddr() })
	return ap
}

// RemoteAddr returns the peer address and port.
func (c *Conn) RemoteAddr() netip.AddrPort {
	var ap netip.AddrPort
	c.snapshot(func(h api.Handle) { ap = h.RemoteAddr() })
	return ap
}

// RxTimeout returns the receive timeout, 0 when disabled.
func (c *Conn) RxTimeout() time.Duration { return time.Duration(c.rxTimeout.Load()) }

// SetRxTimeout closes the connection when nothing was received for d,
// checked on every poll. 0 disables the check.
func (c *Conn) SetRxTimeout(d time.Duration) { c.rxTimeout.Store(int64(max(d, 0))) }

// AckTimeout returns the acknowledgment timeout.
func (c *Conn) AckTimeout() time.Duration { return time.Duration(c.ackTimeout.Load()) }

// SetAckTimeout records the acknowledgment timeout. It is reported but not
// enforced.
func (c *Conn) SetAckTimeout(d time.Duration) { c.ackTimeout.Store(int64(max(d, 0))) }

// NoDelay reports whether Nagle's algorithm is disabled.
func (c *Conn) NoDelay() bool { return c.noDelay.Load() }

// SetNoDelay disables Nagle's algorithm. It applies to the live handle and
// to the next one.
func (c *Conn) SetNoDelay(on bool) {
	c.noDelay.Store(on)
	if c.IsActive() {
		c.snapshot(func(h api.Handle) { h.SetNoDelay(on) })
	}
}

// DeferAck reports whether received bytes wait for Ack.
func (c *Conn) DeferAck() bool { return c.deferAck.Load() }

// SetDeferAck makes received bytes accumulate until Ack instead of being
// acknowledged after the data handler returns. Turning it off acknowledges
// everything outstanding.
func (c *Conn) SetDeferAck(on bool) {
	c.deferAck.Store(on)
	if !on {
		c.flushUnacked()
	}
}

// Unacked returns received bytes not yet acknowledged.
func (c *Conn) Unacked() int64 { return c.unacked.Load() }

// LastRx returns the clock reading of the last receive activity.
func (c *Conn) LastRx() time.Duration { return time.Duration(c.lastRx.Load()) }

// LastTx returns the clock reading of the last flush.
func (c *Conn) LastTx() time.Duration { return time.Duration(c.lastTx.Load()) }
