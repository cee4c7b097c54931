// File: async/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw hooks and the two-phase dispatch of their events. A hook counts the
// event in pending before submitting it; the post phase uncounts it and
// attempts recycle. A rejected submission is uncounted on the spot and the
// event is dropped.

package async

import (
	"time"

	"github.com/momentics/hioload-tcp/api"
)

// event is the owned payload of one dispatch.
type event struct {
	kind    api.EventKind
	chain   api.Chain     // received
	total   int           // received
	code    api.ErrorCode // error
	at      time.Duration // poll
	n       int           // sent
	elapsed time.Duration // sent

	accepted ConnectedHandler // connected, listener-side
}

// submit counts and schedules ev. On rejection pending is restored.
func (c *Conn) submit(ev *event) bool {
	c.pending.Add(1)
	if c.submitHeld(ev) {
		return true
	}
	c.doneOnLoop()
	return false
}

// submitHeld schedules ev whose pending reference the caller already took.
// On rejection the reference stays with the caller.
func (c *Conn) submitHeld(ev *event) bool {
	ok := c.env.Scheduler.Submit(api.Task{
		Tag:  ev.kind.String(),
		Key:  c.key,
		Pre:  func() { c.deliver(ev) },
		Post: func() { c.settle(ev) },
	})
	if !ok {
		c.env.Metrics.Add("events_rejected", 1)
		c.log.Warn().Str("conn_id", c.ID()).Stringer("event", ev.kind).Msg("event dropped, scheduler rejected it")
	}
	return ok
}

// done drops a pending reference and attempts recycle.
func (c *Conn) done() {
	c.pending.Add(-1)
	c.recycle()
}

// doneOnLoop is done for the loop goroutine, where releasing the handle
// through Stack.Call is not possible.
func (c *Conn) doneOnLoop() {
	if c.pending.Add(-1) == 0 && c.life.load() == StateClosing {
		go c.recycle()
	}
}

// deliver is the pre phase: the application handler.
func (c *Conn) deliver(ev *event) {
	switch ev.kind {
	case api.EventReceived:
		if fn := c.handlers.data.get(); fn != nil {
			for _, seg := range ev.chain.Segments() {
				fn(c, seg)
			}
		}
	case api.EventDisconnected:
		if fn := c.handlers.disconnected.get(); fn != nil {
			fn(c)
		}
	case api.EventError:
		if fn := c.handlers.err.get(); fn != nil {
			fn(c, ev.code.Err())
		}
	case api.EventSent:
		if fn := c.handlers.sent.get(); fn != nil {
			fn(c, ev.n, ev.elapsed)
		}
	case api.EventPoll:
		if !c.IsActive() {
			return
		}
		if fn := c.handlers.poll.get(); fn != nil {
			fn(c)
		}
	case api.EventConnected:
		if ev.accepted != nil {
			ev.accepted(c)
		} else if fn := c.handlers.connected.get(); fn != nil {
			fn(c)
		}
	}
}

// settle is the post phase: bookkeeping, then recycle.
func (c *Conn) settle(ev *event) {
	defer c.done()
	switch ev.kind {
	case api.EventReceived:
		defer ev.chain.Release()
		if ev.total == 0 {
			return
		}
		if c.deferAck.Load() {
			c.unacked.Add(int64(ev.total))
			if !c.deferAck.Load() {
				c.flushUnacked()
			}
			return
		}
		c.ack(ev.total)
	case api.EventPoll:
		c.checkTimeouts(ev.at)
	}
}

// checkTimeouts closes an active connection idle for longer than its
// receive timeout. The acknowledgment timeout is not enforced.
func (c *Conn) checkTimeouts(at time.Duration) {
	rx := time.Duration(c.rxTimeout.Load())
	if rx <= 0 || !c.IsActive() {
		return
	}
	idle := at - time.Duration(c.lastRx.Load())
	if idle <= rx {
		return
	}
	c.log.Warn().Str("conn_id", c.ID()).Dur("idle", idle).Dur("rx_timeout", rx).Msg("receive timeout, closing")
	if fn := c.handlers.timeout.get(); fn != nil {
		c.safely("timeout", func() { fn(c, idle) })
	}
	c.Close()
}

// Raw hooks. They run on the loop while c is active.

func (c *Conn) onReceive(chain api.Chain) {
	if chain == nil {
		c.onEOF()
		return
	}
	total := chain.Len()
	if !c.IsActive() {
		chain.Release()
		c.recvedOnLoop(total)
		return
	}
	c.lastRx.Store(int64(c.env.Clock.Now()))
	if !c.submit(&event{kind: api.EventReceived, chain: chain, total: total}) {
		chain.Release()
		c.recvedOnLoop(total)
	}
}

func (c *Conn) recvedOnLoop(n int) {
	if h := c.handleOf(); h != nil && n > 0 {
		h.Recved(n)
	}
}

func (c *Conn) onEOF() {
	c.pending.Add(1)
	if !c.closeOnLoop() {
		c.doneOnLoop()
		return
	}
	if !c.submitHeld(&event{kind: api.EventDisconnected}) {
		c.doneOnLoop()
	}
}

func (c *Conn) onError(code api.ErrorCode) {
	// the transport already freed the handle
	c.handle.Store(nil)
	c.pending.Add(1)
	if !c.closeOnLoop() {
		c.doneOnLoop()
		return
	}
	if !c.submitHeld(&event{kind: api.EventError, code: code}) {
		c.doneOnLoop()
	}
}

func (c *Conn) onSent(n int) {
	now := c.env.Clock.Now()
	elapsed := now - time.Duration(c.lastTx.Load())
	c.send.CompareAndSwap(int32(SendInFlight), int32(SendReady))
	c.submit(&event{kind: api.EventSent, n: n, elapsed: elapsed})
}

func (c *Conn) onPoll() {
	c.submit(&event{kind: api.EventPoll, at: c.env.Clock.Now()})
}

func (c *Conn) onConnected() {
	c.lastRx.Store(int64(c.env.Clock.Now()))
	c.submit(&event{kind: api.EventConnected})
}
