// File: transport/tcp/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// handle is one connection-control block. Fields without atomics are owned by
// the loop goroutine. The reader goroutine shares only unacked and the wake
// channels.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-tcp/api"
)

// Ensure compile-time interface compliance.
var _ api.Handle = (*handle)(nil)

type handle struct {
	s *Stack

	state  api.TCPState
	freed  bool
	hooks  *api.Hooks
	accept api.AcceptHook

	ln     *net.TCPListener
	conn   *net.TCPConn
	cancel context.CancelFunc // pending dial

	local, remote netip.AddrPort
	noDelay       bool

	queued    [][]byte
	queuedLen int
	inflight  int
	out       chan []byte

	unacked atomic.Int64
	rxWake  chan struct{}
	stop    chan struct{} // closed when the handle is freed
	abort   chan struct{} // closed when pending writes must be dropped
}

func (h *handle) Bind(addr netip.Addr, port uint16) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.ln != nil || h.conn != nil || h.state != api.TCPStateClosed {
		return api.ErrCodeIsConn.Err()
	}
	if !addr.IsValid() {
		return api.ErrCodeArg.Err()
	}
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), network(addr), netip.AddrPortFrom(addr, port).String())
	if err != nil {
		return &api.TransportError{Code: codeOf(err), Err: err}
	}
	h.ln = ln.(*net.TCPListener)
	h.local = addrPortOf(ln.Addr())
	h.s.live[h] = struct{}{}
	return nil
}

// Listen starts accepting on a bound handle. The OS listen backlog is used;
// backlog is accepted for interface compatibility.
func (h *handle) Listen(backlog int) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.ln == nil {
		return api.ErrCodeValue.Err()
	}
	if h.state == api.TCPStateListen {
		return nil
	}
	h.state = api.TCPStateListen
	go h.acceptLoop(h.ln)
	return nil
}

func (h *handle) Connect(addr netip.Addr, port uint16) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.conn != nil || h.ln != nil {
		return api.ErrCodeIsConn.Err()
	}
	if h.state == api.TCPStateSynSent {
		return api.ErrCodeAlready.Err()
	}
	if !addr.IsValid() || port == 0 {
		return api.ErrCodeValue.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.state = api.TCPStateSynSent
	h.s.live[h] = struct{}{}

	target := netip.AddrPortFrom(addr, port).String()
	d := net.Dialer{Timeout: h.s.cfg.ConnectTimeout}
	go func() {
		c, err := d.DialContext(ctx, network(addr), target)
		var tc *net.TCPConn
		if err == nil {
			tc = c.(*net.TCPConn)
		}
		if !h.post(func() { h.dialed(tc, err) }) && tc != nil {
			_ = tc.Close()
		}
	}()
	return nil
}

func (h *handle) Write(data []byte, flags api.WriteFlags) error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.conn == nil || (h.state != api.TCPStateEstablished && h.state != api.TCPStateCloseWait) {
		return api.ErrCodeConn.Err()
	}
	if len(data) == 0 {
		return nil
	}
	if len(data) > h.SendBuffer() {
		return api.ErrCodeMem.Err()
	}
	if flags&api.WriteFlagCopy != 0 {
		data = append([]byte(nil), data...)
	}
	h.queued = append(h.queued, data)
	h.queuedLen += len(data)
	return nil
}

func (h *handle) Output() error {
	if h.freed {
		return api.ErrCodeClosed.Err()
	}
	if h.conn == nil {
		return api.ErrCodeConn.Err()
	}
	if h.queuedLen == 0 {
		return nil
	}
	buf := h.queued[0]
	if len(h.queued) > 1 {
		buf = make([]byte, 0, h.queuedLen)
		for _, b := range h.queued {
			buf = append(buf, b...)
		}
	}
	select {
	case h.out <- buf:
		h.inflight += len(buf)
		h.queued = nil
		h.queuedLen = 0
		return nil
	default:
		return api.ErrCodeMem.Err()
	}
}

func (h *handle) Recved(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := h.unacked.Load()
		next := cur - int64(n)
		if next < 0 {
			next = 0
		}
		if h.unacked.CompareAndSwap(cur, next) {
			break
		}
	}
	select {
	case h.rxWake <- struct{}{}:
	default:
	}
}

func (h *handle) SendBuffer() int {
	if h.freed || h.conn == nil {
		return 0
	}
	if n := h.s.cfg.SendBuffer - h.queuedLen - h.inflight; n > 0 {
		return n
	}
	return 0
}

func (h *handle) MSS() int {
	if h.freed {
		return 0
	}
	if h.conn == nil {
		return h.s.cfg.DefaultMSS
	}
	if mss, err := segmentSize(h.conn); err == nil && mss > 0 {
		return mss
	}
	return h.s.cfg.DefaultMSS
}

func (h *handle) State() api.TCPState { return h.state }

func (h *handle) SetNoDelay(on bool) {
	h.noDelay = on
	if h.conn != nil && !h.freed {
		_ = h.conn.SetNoDelay(on)
	}
}

func (h *handle) LocalAddr() netip.AddrPort  { return h.local }
func (h *handle) RemoteAddr() netip.AddrPort { return h.remote }

func (h *handle) SetHooks(hooks *api.Hooks) {
	if h.freed {
		return
	}
	h.hooks = hooks
}

func (h *handle) SetAcceptHook(fn api.AcceptHook) {
	if h.freed {
		return
	}
	h.accept = fn
}

// Close frees the handle. Queued output is flushed by the writer goroutine,
// bounded by CloseTimeout, before the socket is closed.
func (h *handle) Close() error {
	if h.freed {
		return nil
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.ln != nil {
		if err := h.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return &api.TransportError{Code: codeOf(err), Err: err}
		}
	}
	if h.conn != nil {
		if len(h.queued) > 0 {
			_ = h.Output()
		}
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.s.cfg.CloseTimeout))
		close(h.out)
	}
	h.state = api.TCPStateClosed
	h.free()
	return nil
}

func (h *handle) Abort() {
	if h.freed {
		return
	}
	h.teardown(true)
}

func (h *handle) teardown(reset bool) {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.ln != nil {
		_ = h.ln.Close()
	}
	if h.conn != nil {
		if reset {
			_ = h.conn.SetLinger(0)
		}
		_ = h.conn.Close()
	}
	close(h.abort)
	h.state = api.TCPStateClosed
	h.free()
}

func (h *handle) free() {
	h.freed = true
	h.hooks = nil
	h.accept = nil
	h.queued = nil
	h.queuedLen = 0
	close(h.stop)
	delete(h.s.live, h)
	delete(h.s.polled, h)
	h.s.unreserve()
}

func (h *handle) post(fn func()) bool {
	return h.s.loop.Post(fn) == nil
}

// attach adopts an established socket.
func (h *handle) attach(tc *net.TCPConn) {
	h.conn = tc
	h.state = api.TCPStateEstablished
	h.local = addrPortOf(tc.LocalAddr())
	h.remote = addrPortOf(tc.RemoteAddr())
	_ = tc.SetNoDelay(h.noDelay)
	h.out = make(chan []byte, h.s.cfg.WriteQueue)
	h.s.live[h] = struct{}{}
}

// start launches socket I/O; hooks fire from the next loop turn on.
func (h *handle) start() {
	h.s.polled[h] = struct{}{}
	go h.reader(h.conn)
	go h.writer(h.conn, h.out)
}

func (h *handle) dialed(tc *net.TCPConn, err error) {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.freed {
		if tc != nil {
			_ = tc.Close()
		}
		return
	}
	if err != nil {
		h.fail(err)
		return
	}
	h.attach(tc)
	h.start()
	if h.hooks != nil && h.hooks.OnConnected != nil {
		h.hooks.OnConnected()
	}
}

func (h *handle) deliver(c *chain) {
	if h.freed {
		c.Release()
		return
	}
	if h.hooks != nil && h.hooks.OnReceive != nil {
		h.hooks.OnReceive(c)
		return
	}
	n := c.Len()
	c.Release()
	h.Recved(n)
}

func (h *handle) eof() {
	if h.freed {
		return
	}
	if h.state == api.TCPStateEstablished {
		h.state = api.TCPStateCloseWait
	}
	if h.hooks != nil && h.hooks.OnReceive != nil {
		h.hooks.OnReceive(nil)
		return
	}
	_ = h.Close()
}

func (h *handle) sent(n int) {
	if h.freed {
		return
	}
	h.inflight -= n
	if h.inflight < 0 {
		h.inflight = 0
	}
	if h.hooks != nil && h.hooks.OnSent != nil {
		h.hooks.OnSent(n)
	}
}

// fail frees the handle and then reports the error.
func (h *handle) fail(err error) {
	if h.freed {
		return
	}
	hooks := h.hooks
	code := codeOf(err)
	h.teardown(false)
	h.s.log.Debug().Err(err).Str("code", code.String()).Msg("connection failed")
	if hooks != nil && hooks.OnError != nil {
		hooks.OnError(code)
	}
}

func (h *handle) acceptFailed(err error) {
	if h.freed {
		return
	}
	h.s.log.Warn().Err(err).Msg("accept failed")
	if h.accept != nil {
		_ = h.callAccept(nil, codeOf(err))
	}
}

func (h *handle) inbound(tc *net.TCPConn) {
	if h.freed || h.state != api.TCPStateListen {
		_ = tc.Close()
		return
	}
	if !h.s.reserve() {
		_ = tc.Close()
		if h.accept != nil {
			_ = h.callAccept(nil, api.ErrCodeMem)
		}
		return
	}
	nh := h.s.newHandle()
	nh.attach(tc)
	if h.accept == nil {
		nh.Abort()
		return
	}
	if err := h.callAccept(nh, api.ErrCodeOK); err != nil {
		h.s.log.Debug().Err(err).Msg("accept hook refused connection")
		nh.Abort()
		return
	}
	if !nh.freed {
		nh.start()
	}
}

func (h *handle) callAccept(nh api.Handle, code api.ErrorCode) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tcp: accept hook panicked: %v", r)
		}
	}()
	return h.accept(nh, code)
}

func (h *handle) acceptLoop(ln *net.TCPListener) {
	var backoff time.Duration
	for {
		tc, err := ln.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if !h.post(func() { h.acceptFailed(err) }) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			select {
			case <-time.After(backoff):
			case <-h.stop:
				return
			}
			continue
		}
		backoff = 0
		if !h.post(func() { h.inbound(tc) }) {
			_ = tc.Close()
			return
		}
	}
}

func (h *handle) reader(tc *net.TCPConn) {
	window := int64(h.s.cfg.RecvWindow)
	for {
		for h.unacked.Load() >= window {
			select {
			case <-h.rxWake:
			case <-h.stop:
				return
			}
		}
		buf := h.s.bufs.Get()
		if room := window - h.unacked.Load(); room < int64(len(buf)) {
			buf = buf[:room]
		}
		n, err := tc.Read(buf)
		if n > 0 {
			h.unacked.Add(int64(n))
			c := newChain(h.s.bufs, buf[:n])
			if !h.post(func() { h.deliver(c) }) {
				c.Release()
				return
			}
		} else {
			h.s.bufs.Put(buf)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.post(h.eof)
			} else {
				h.post(func() { h.fail(err) })
			}
			return
		}
	}
}

func (h *handle) writer(tc *net.TCPConn, out <-chan []byte) {
	defer tc.Close()
	for {
		select {
		case b, ok := <-out:
			if !ok {
				return
			}
			n, err := tc.Write(b)
			if err != nil {
				h.post(func() { h.fail(err) })
				return
			}
			h.post(func() { h.sent(n) })
		case <-h.abort:
			return
		}
	}
}

func network(addr netip.Addr) string {
	if addr.Is4() || addr.Is4In6() {
		return "tcp4"
	}
	return "tcp6"
}

func addrPortOf(a net.Addr) netip.AddrPort {
	ta, ok := a.(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap := ta.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
