// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for all core interfaces.

package fake

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
)

// Ensure compile-time interface compliance.
var (
	_ api.Stack  = (*Stack)(nil)
	_ api.Handle = (*Handle)(nil)
	_ api.Chain  = (*Chain)(nil)
)

// DefaultSendBuffer is the send buffer of a fresh Handle.
const DefaultSendBuffer = 5744

// Stack is a fake api.Stack. Its owner context is a mutex: Call and every
// Fire* method hold it while running, so hooks and marshaled functions never
// overlap, as on a real transport loop.
type Stack struct {
	owner sync.Mutex

	mu        sync.Mutex
	handles   []*Handle
	failAlloc bool
	prepare   func(*Handle)

	calls atomic.Int64
}

// NewStack creates an empty fake stack.
func NewStack() *Stack {
	return &Stack{}
}

// NewHandle implements api.Stack.
func (s *Stack) NewHandle() (api.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAlloc {
		return nil, api.ErrAllocationFailed
	}
	h := s.newHandle()
	s.handles = append(s.handles, h)
	if s.prepare != nil {
		s.prepare(h)
	}
	return h, nil
}

// Prepare runs fn on every handle created by NewHandle from now on, before
// it is returned. fn may use the Fail* and Set* knobs.
func (s *Stack) Prepare(fn func(*Handle)) {
	s.mu.Lock()
	s.prepare = fn
	s.mu.Unlock()
}

// Call implements api.Stack.
func (s *Stack) Call(fn func() error) error {
	s.calls.Add(1)
	s.owner.Lock()
	defer s.owner.Unlock()
	return fn()
}

// FailAllocation makes NewHandle fail while on is set.
func (s *Stack) FailAllocation(on bool) {
	s.mu.Lock()
	s.failAlloc = on
	s.mu.Unlock()
}

// Calls returns how many functions were marshaled through Call.
func (s *Stack) Calls() int64 {
	return s.calls.Load()
}

// Handles returns every handle created by NewHandle, oldest first.
func (s *Stack) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Last returns the most recently created handle, or nil.
func (s *Stack) Last() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

// NewInbound creates an established handle for FireAccept. It is not listed
// by Handles.
func (s *Stack) NewInbound(remote netip.AddrPort) *Handle {
	h := s.newHandle()
	h.state = api.TCPStateEstablished
	h.remote = remote
	return h
}

func (s *Stack) newHandle() *Handle {
	return &Handle{stack: s, state: api.TCPStateClosed, sendBuf: DefaultSendBuffer, mss: 536}
}

// Handle is a fake api.Handle. The api.Handle methods expect the owner
// context to be held (they are called from inside Stack.Call or a hook); the
// remaining methods acquire it themselves and must not be called from there.
type Handle struct {
	stack *Stack

	state    api.TCPState
	hooks    *api.Hooks
	accept   api.AcceptHook
	local    netip.AddrPort
	remote   netip.AddrPort
	target   netip.AddrPort
	backlog  int
	noDelay  bool
	mss      int
	sendBuf  int
	queued   [][]byte
	inflight int
	flushed  []byte
	acked    int
	closed   bool
	aborted  bool
	freed    bool

	bindErr, listenErr, connectErr error
	writeErr, outputErr, closeErr  error
}

// Bind implements api.Handle.
func (h *Handle) Bind(addr netip.Addr, port uint16) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.bindErr != nil {
		return h.bindErr
	}
	if port == 0 {
		port = 40000
	}
	h.local = netip.AddrPortFrom(addr, port)
	return nil
}

// Listen implements api.Handle.
func (h *Handle) Listen(backlog int) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.listenErr != nil {
		return h.listenErr
	}
	h.backlog = backlog
	h.state = api.TCPStateListen
	return nil
}

// Connect implements api.Handle. Completion is driven by FireConnected.
func (h *Handle) Connect(addr netip.Addr, port uint16) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.connectErr != nil {
		return h.connectErr
	}
	h.target = netip.AddrPortFrom(addr, port)
	h.state = api.TCPStateSynSent
	return nil
}

// Write implements api.Handle.
func (h *Handle) Write(data []byte, flags api.WriteFlags) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.writeErr != nil {
		return h.writeErr
	}
	if len(data) > h.SendBuffer() {
		return api.ErrCodeMem.Err()
	}
	h.queued = append(h.queued, append([]byte(nil), data...))
	return nil
}

// Output implements api.Handle.
func (h *Handle) Output() error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.outputErr != nil {
		return h.outputErr
	}
	for _, b := range h.queued {
		h.flushed = append(h.flushed, b...)
		h.inflight += len(b)
	}
	h.queued = nil
	return nil
}

// Recved implements api.Handle.
func (h *Handle) Recved(n int) {
	h.acked += n
}

// SendBuffer implements api.Handle.
func (h *Handle) SendBuffer() int {
	if h.freed {
		return 0
	}
	n := h.sendBuf - h.inflight
	for _, b := range h.queued {
		n -= len(b)
	}
	if n < 0 {
		return 0
	}
	return n
}

// MSS implements api.Handle.
func (h *Handle) MSS() int { return h.mss }

// State implements api.Handle.
func (h *Handle) State() api.TCPState { return h.state }

// SetNoDelay implements api.Handle.
func (h *Handle) SetNoDelay(on bool) { h.noDelay = on }

// LocalAddr implements api.Handle.
func (h *Handle) LocalAddr() netip.AddrPort { return h.local }

// RemoteAddr implements api.Handle.
func (h *Handle) RemoteAddr() netip.AddrPort { return h.remote }

// SetHooks implements api.Handle.
func (h *Handle) SetHooks(hooks *api.Hooks) { h.hooks = hooks }

// SetAcceptHook implements api.Handle.
func (h *Handle) SetAcceptHook(fn api.AcceptHook) { h.accept = fn }

// Close implements api.Handle.
func (h *Handle) Close() error {
	if h.closeErr != nil {
		return h.closeErr
	}
	h.closed = true
	h.free()
	return nil
}

// Abort implements api.Handle.
func (h *Handle) Abort() {
	h.aborted = true
	h.free()
}

func (h *Handle) free() {
	h.freed = true
	h.state = api.TCPStateClosed
	h.hooks = nil
	h.accept = nil
}

func (h *Handle) locked(fn func()) {
	h.stack.owner.Lock()
	defer h.stack.owner.Unlock()
	fn()
}

// SetSendBuffer sets the total send buffer size.
func (h *Handle) SetSendBuffer(n int) { h.locked(func() { h.sendBuf = n }) }

// SetMSS sets the value returned by MSS.
func (h *Handle) SetMSS(n int) { h.locked(func() { h.mss = n }) }

// FailBind makes Bind return err.
func (h *Handle) FailBind(err error) { h.locked(func() { h.bindErr = err }) }

// FailListen makes Listen return err.
func (h *Handle) FailListen(err error) { h.locked(func() { h.listenErr = err }) }

// FailConnect makes Connect return err.
func (h *Handle) FailConnect(err error) { h.locked(func() { h.connectErr = err }) }

// FailWrite makes Write return err.
func (h *Handle) FailWrite(err error) { h.locked(func() { h.writeErr = err }) }

// FailOutput makes Output return err.
func (h *Handle) FailOutput(err error) { h.locked(func() { h.outputErr = err }) }

// FailClose makes Close return err.
func (h *Handle) FailClose(err error) { h.locked(func() { h.closeErr = err }) }

// FireConnected completes a pending connect.
func (h *Handle) FireConnected() bool {
	var ok bool
	h.locked(func() {
		if h.freed {
			return
		}
		h.state = api.TCPStateEstablished
		if h.remote == (netip.AddrPort{}) {
			h.remote = h.target
		}
		if h.hooks != nil && h.hooks.OnConnected != nil {
			h.hooks.OnConnected()
			ok = true
		}
	})
	return ok
}

// FireReceive delivers data as one chain. It returns the chain, or nil when
// no receive hook was installed.
func (h *Handle) FireReceive(data ...[]byte) *Chain {
	var c *Chain
	h.locked(func() {
		if h.freed || h.hooks == nil || h.hooks.OnReceive == nil {
			return
		}
		c = NewChain(data...)
		h.hooks.OnReceive(c)
	})
	return c
}

// FireEOF signals end-of-stream.
func (h *Handle) FireEOF() bool {
	var ok bool
	h.locked(func() {
		if h.freed || h.hooks == nil || h.hooks.OnReceive == nil {
			return
		}
		h.state = api.TCPStateCloseWait
		h.hooks.OnReceive(nil)
		ok = true
	})
	return ok
}

// FireSent acknowledges n bytes.
func (h *Handle) FireSent(n int) bool {
	var ok bool
	h.locked(func() {
		if h.freed {
			return
		}
		h.inflight -= n
		if h.inflight < 0 {
			h.inflight = 0
		}
		if h.hooks != nil && h.hooks.OnSent != nil {
			h.hooks.OnSent(n)
			ok = true
		}
	})
	return ok
}

// FireError frees the handle and reports code, as a transport does on a
// fatal connection error.
func (h *Handle) FireError(code api.ErrorCode) bool {
	var ok bool
	h.locked(func() {
		if h.freed {
			return
		}
		hooks := h.hooks
		h.free()
		if hooks != nil && hooks.OnError != nil {
			hooks.OnError(code)
			ok = true
		}
	})
	return ok
}

// FirePoll raises the periodic poll hook.
func (h *Handle) FirePoll() bool {
	var ok bool
	h.locked(func() {
		if h.freed || h.hooks == nil || h.hooks.OnPoll == nil {
			return
		}
		h.hooks.OnPoll()
		ok = true
	})
	return ok
}

// FireAccept offers inbound (nil for a failed accept) to the accept hook.
// A hook error aborts inbound, as a transport does.
func (h *Handle) FireAccept(inbound *Handle, code api.ErrorCode) error {
	var err error
	h.locked(func() {
		if h.freed || h.accept == nil {
			err = api.ErrCodeConn.Err()
			if inbound != nil {
				inbound.Abort()
			}
			return
		}
		var arg api.Handle
		if inbound != nil {
			arg = inbound
		}
		err = h.accept(arg, code)
		if err != nil && inbound != nil {
			inbound.Abort()
		}
	})
	return err
}

// Flushed returns every byte passed to Output so far.
func (h *Handle) Flushed() []byte {
	var b []byte
	h.locked(func() { b = append([]byte(nil), h.flushed...) })
	return b
}

// QueuedBytes returns bytes written but not yet flushed.
func (h *Handle) QueuedBytes() int {
	n := 0
	h.locked(func() {
		for _, b := range h.queued {
			n += len(b)
		}
	})
	return n
}

// Acked returns the total passed to Recved.
func (h *Handle) Acked() int {
	var n int
	h.locked(func() { n = h.acked })
	return n
}

// IsClosed reports a successful graceful Close.
func (h *Handle) IsClosed() bool {
	var v bool
	h.locked(func() { v = h.closed })
	return v
}

// IsAborted reports an Abort.
func (h *Handle) IsAborted() bool {
	var v bool
	h.locked(func() { v = h.aborted })
	return v
}

// IsFreed reports whether the handle was closed, aborted or failed.
func (h *Handle) IsFreed() bool {
	var v bool
	h.locked(func() { v = h.freed })
	return v
}

// HasHooks reports whether raw hooks are installed.
func (h *Handle) HasHooks() bool {
	var v bool
	h.locked(func() { v = h.hooks != nil })
	return v
}

// HasAcceptHook reports whether an accept hook is installed.
func (h *Handle) HasAcceptHook() bool {
	var v bool
	h.locked(func() { v = h.accept != nil })
	return v
}

// NoDelay returns the last SetNoDelay value.
func (h *Handle) NoDelay() bool {
	var v bool
	h.locked(func() { v = h.noDelay })
	return v
}

// Target returns the address passed to Connect.
func (h *Handle) Target() netip.AddrPort {
	var v netip.AddrPort
	h.locked(func() { v = h.target })
	return v
}

// Chain is a fake api.Chain over caller-supplied segments.
type Chain struct {
	segs     [][]byte
	n        int
	released atomic.Int32
}

// NewChain builds a chain over data.
func NewChain(data ...[]byte) *Chain {
	c := &Chain{segs: data}
	for _, d := range data {
		c.n += len(d)
	}
	return c
}

// Segments implements api.Chain.
func (c *Chain) Segments() [][]byte { return c.segs }

// Len implements api.Chain.
func (c *Chain) Len() int { return c.n }

// Release implements api.Chain.
func (c *Chain) Release() { c.released.Add(1) }

// Releases returns how many times Release was called.
func (c *Chain) Releases() int { return int(c.released.Load()) }
