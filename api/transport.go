// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Transport stack contract. A Stack owns one serialized execution context;
// every Handle method and every hook runs on that context. Code outside it
// reaches a Handle only through Stack.Call.

package api

import (
	"context"
	"net/netip"
	"time"
)

// Stack is a single-threaded transport stack.
type Stack interface {
	// NewHandle allocates an unbound connection-control block. Safe from any
	// goroutine. Fails with ErrAllocationFailed when the stack is out of handles.
	NewHandle() (Handle, error)

	// Call runs fn on the stack's owner context and returns its result.
	// It blocks the caller until fn has completed. Must not be invoked from
	// the owner context itself.
	Call(fn func() error) error
}

// WriteFlags control how queued bytes are handled by Handle.Write.
type WriteFlags uint8

const (
	// WriteFlagCopy copies data into transport memory; without it the caller
	// must keep data unchanged until the matching Sent hook fires.
	WriteFlagCopy WriteFlags = 1 << iota
	// WriteFlagMore hints that more data follows (no PSH on this segment).
	WriteFlagMore
)

// Chain is a received buffer chain owned by whoever holds it until Release.
type Chain interface {
	// Segments returns the chain payloads in order.
	Segments() [][]byte
	// Len returns the total number of bytes across all segments.
	Len() int
	// Release returns the buffers to the transport. The chain must not be
	// used afterwards.
	Release()
}

// Hooks is the set of raw callbacks a handle raises on the owner context.
// Any field may be nil.
type Hooks struct {
	// OnReceive delivers data; a nil chain signals end-of-stream.
	OnReceive func(chain Chain)
	// OnSent reports n bytes acknowledged by the peer.
	OnSent func(n int)
	// OnError reports a fatal error. The handle is already freed by the
	// transport when this fires and must not be used again.
	OnError func(code ErrorCode)
	// OnPoll fires periodically while the connection is alive.
	OnPoll func()
	// OnConnected fires once an outgoing connect completed.
	OnConnected func()
}

// AcceptHook handles an inbound connection on a listening handle. A non-OK
// code means the accept itself failed; h may then be nil. Returning an error
// makes the stack abort h.
type AcceptHook func(h Handle, code ErrorCode) error

// Handle is one connection-control block. All methods must run on the owner
// context of the Stack that created it.
type Handle interface {
	Bind(addr netip.Addr, port uint16) error
	Listen(backlog int) error
	Connect(addr netip.Addr, port uint16) error

	// Write queues data for transmission without sending it.
	Write(data []byte, flags WriteFlags) error
	// Output flushes queued data.
	Output() error
	// Recved acknowledges n received bytes, reopening the receive window.
	Recved(n int)

	// SendBuffer returns the space currently available for Write.
	SendBuffer() int
	MSS() int
	State() TCPState
	SetNoDelay(on bool)
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort

	// SetHooks installs raw hooks. nil deregisters every hook.
	SetHooks(h *Hooks)
	// SetAcceptHook installs the accept hook of a listening handle.
	SetAcceptHook(fn AcceptHook)

	// Close gracefully closes the handle. On success the handle is freed.
	Close() error
	// Abort frees the handle immediately, resetting the connection.
	Abort()
}

// Resolver maps host names to addresses.
type Resolver interface {
	LookupAddr(ctx context.Context, name string) (netip.Addr, error)
}

// Clock returns monotonic time as an offset from an arbitrary origin.
type Clock interface {
	Now() time.Duration
}

var processStart = time.Now()

// SystemClock is the process-wide monotonic clock.
type SystemClock struct{}

// Now returns time elapsed since process start.
func (SystemClock) Now() time.Duration {
	return time.Since(processStart)
}
