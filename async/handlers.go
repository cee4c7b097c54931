package async

import (
	"sync/atomic"
	"time"
)

// Application handlers. Every handler runs on a scheduler worker, never on
// the transport goroutine or the caller's goroutine.
type (
	ConnectedHandler    func(c *Conn)
	DisconnectedHandler func(c *Conn)
	SentHandler         func(c *Conn, n int, elapsed time.Duration)
	ErrorHandler        func(c *Conn, err error)
	// DataHandler receives one segment at a time. data is only valid during
	// the call.
	DataHandler    func(c *Conn, data []byte)
	TimeoutHandler func(c *Conn, idle time.Duration)
	PollHandler    func(c *Conn)
	RecycleHandler func(c *Conn)
)

// slot holds one handler; it may be replaced at any time.
type slot[F any] struct {
	p atomic.Pointer[F]
}

func (s *slot[F]) set(fn F) { s.p.Store(&fn) }

func (s *slot[F]) get() F {
	if p := s.p.Load(); p != nil {
		return *p
	}
	var zero F
	return zero
}

func (s *slot[F]) clear() { s.p.Store(nil) }

type handlerTable struct {
	connected    slot[ConnectedHandler]
	disconnected slot[DisconnectedHandler]
	sent         slot[SentHandler]
	err          slot[ErrorHandler]
	data         slot[DataHandler]
	timeout      slot[TimeoutHandler]
	poll         slot[PollHandler]
	recycle      slot[RecycleHandler]
}

func (t *handlerTable) reset() {
	t.connected.clear()
	t.disconnected.clear()
	t.sent.clear()
	t.err.clear()
	t.data.clear()
	t.timeout.clear()
	t.poll.clear()
	t.recycle.clear()
}

// OnConnected sets the handler for a completed outgoing connect.
func (c *Conn) OnConnected(fn ConnectedHandler) { c.handlers.connected.set(fn) }

// OnDisconnected sets the handler for end-of-stream from the peer.
func (c *Conn) OnDisconnected(fn DisconnectedHandler) { c.handlers.disconnected.set(fn) }

// OnSent sets the handler for acknowledged output.
func (c *Conn) OnSent(fn SentHandler) { c.handlers.sent.set(fn) }

// OnError sets the handler for fatal transport errors. err carries an
// *api.TransportError.
func (c *Conn) OnError(fn ErrorHandler) { c.handlers.err.set(fn) }

// OnData sets the handler for received data.
func (c *Conn) OnData(fn DataHandler) { c.handlers.data.set(fn) }

// OnTimeout sets the handler run before a receive timeout closes c.
func (c *Conn) OnTimeout(fn TimeoutHandler) { c.handlers.timeout.set(fn) }

// OnPoll sets the periodic poll handler.
func (c *Conn) OnPoll(fn PollHandler) { c.handlers.poll.set(fn) }

// OnRecycle sets the handler run once per handle lifetime, just before the
// handle is released.
func (c *Conn) OnRecycle(fn RecycleHandler) { c.handlers.recycle.set(fn) }
