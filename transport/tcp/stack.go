// File: transport/tcp/stack.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stack binds handles to a reactor.Loop. The loop goroutine is the owner
// context: every Handle method must run there, and every hook fires there.

package tcp

import (
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
	"github.com/momentics/hioload-tcp/reactor"
)

// Ensure compile-time interface compliance.
var _ api.Stack = (*Stack)(nil)

// Stack is an api.Stack backed by OS sockets.
type Stack struct {
	loop *reactor.Loop
	cfg  Config
	bufs *pool.BytePool
	log  zerolog.Logger

	reserved chan struct{} // handle slots when MaxHandles > 0

	// loop-owned
	live   map[*handle]struct{}
	polled map[*handle]struct{}
}

// NewStack creates a stack on loop. The loop must be started separately.
func NewStack(loop *reactor.Loop, cfg *Config, log zerolog.Logger) *Stack {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.normalize()
	s := &Stack{
		loop:   loop,
		cfg:    c,
		bufs:   pool.NewBytePool(c.ReadBufferSize),
		log:    log.With().Str("component", "tcp").Logger(),
		live:   make(map[*handle]struct{}),
		polled: make(map[*handle]struct{}),
	}
	if c.MaxHandles > 0 {
		s.reserved = make(chan struct{}, c.MaxHandles)
	}
	loop.OnTick(s.poll)
	return s
}

// NewHandle allocates a closed handle. Safe from any goroutine.
func (s *Stack) NewHandle() (api.Handle, error) {
	if !s.reserve() {
		return nil, api.ErrAllocationFailed
	}
	return s.newHandle(), nil
}

// Call runs fn on the loop and waits for its result.
func (s *Stack) Call(fn func() error) error {
	return s.loop.Call(fn)
}

// Live returns the number of handles that own a socket.
func (s *Stack) Live() int {
	n := 0
	_ = s.loop.Call(func() error {
		n = len(s.live)
		return nil
	})
	return n
}

// BuffersInUse returns receive buffers not yet released by their chains.
func (s *Stack) BuffersInUse() int64 {
	return s.bufs.InUse()
}

// Shutdown aborts every live handle. Each abort is reported to the error
// hook, as for a connection the peer tore down, so owners can release
// their state.
func (s *Stack) Shutdown() error {
	err := s.loop.Call(func() error {
		live := make([]*handle, 0, len(s.live))
		for h := range s.live {
			live = append(live, h)
		}
		for _, h := range live {
			if h.freed {
				continue
			}
			hooks := h.hooks
			h.teardown(true)
			if hooks != nil && hooks.OnError != nil {
				hooks.OnError(api.ErrCodeAborted)
			}
		}
		return nil
	})
	if err == api.ErrLoopClosed {
		return nil
	}
	return err
}

func (s *Stack) newHandle() *handle {
	return &handle{
		s:      s,
		state:  api.TCPStateClosed,
		stop:   make(chan struct{}),
		abort:  make(chan struct{}),
		rxWake: make(chan struct{}, 1),
	}
}

func (s *Stack) reserve() bool {
	if s.reserved == nil {
		return true
	}
	select {
	case s.reserved <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Stack) unreserve() {
	if s.reserved != nil {
		<-s.reserved
	}
}

// poll raises OnPoll on every connected handle. Runs on the loop tick.
func (s *Stack) poll() {
	for h := range s.polled {
		if h.freed || h.hooks == nil || h.hooks.OnPoll == nil {
			continue
		}
		h.hooks.OnPoll()
	}
}
