package tcp

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/reactor"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func newTestStack(t *testing.T, cfg *Config) *Stack {
	t.Helper()
	loop := reactor.New(&reactor.Config{TickInterval: 20 * time.Millisecond}, zerolog.Nop())
	loop.Start()
	s := NewStack(loop, cfg, zerolog.Nop())
	t.Cleanup(func() {
		_ = s.Shutdown()
		loop.Stop()
	})
	return s
}

// listen binds an ephemeral loopback port and routes accepted handles to the
// returned channel.
func listen(t *testing.T, s *Stack, hooks func(api.Handle) *api.Hooks) (api.Handle, uint16, <-chan api.Handle) {
	t.Helper()
	ln, err := s.NewHandle()
	require.NoError(t, err)
	accepted := make(chan api.Handle, 4)
	require.NoError(t, s.Call(func() error {
		if err := ln.Bind(loopback, 0); err != nil {
			return err
		}
		if err := ln.Listen(8); err != nil {
			return err
		}
		ln.SetAcceptHook(func(h api.Handle, code api.ErrorCode) error {
			if code != api.ErrCodeOK {
				return code.Err()
			}
			if hooks != nil {
				h.SetHooks(hooks(h))
			}
			accepted <- h
			return nil
		})
		return nil
	}))
	var port uint16
	require.NoError(t, s.Call(func() error {
		port = ln.LocalAddr().Port()
		return nil
	}))
	require.NotZero(t, port)
	return ln, port, accepted
}

func TestStack_RoundTrip(t *testing.T) {
	s := newTestStack(t, nil)

	received := make(chan []byte, 16)
	eof := make(chan struct{})
	_, port, accepted := listen(t, s, func(h api.Handle) *api.Hooks {
		return &api.Hooks{
			OnReceive: func(c api.Chain) {
				if c == nil {
					close(eof)
					return
				}
				var b []byte
				for _, seg := range c.Segments() {
					b = append(b, seg...)
				}
				n := c.Len()
				c.Release()
				h.Recved(n)
				received <- b
			},
		}
	})

	cli, err := s.NewHandle()
	require.NoError(t, err)
	connected := make(chan struct{})
	sent := make(chan int, 4)
	require.NoError(t, s.Call(func() error {
		cli.SetHooks(&api.Hooks{
			OnConnected: func() { close(connected) },
			OnSent:      func(n int) { sent <- n },
		})
		return cli.Connect(loopback, port)
	}))

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not complete")
	}
	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound connection")
	}

	payload := bytes.Repeat([]byte("x"), 100)
	require.NoError(t, s.Call(func() error {
		assert.Equal(t, api.TCPStateEstablished, cli.State())
		assert.Equal(t, DefaultConfig().SendBuffer, cli.SendBuffer())
		assert.Equal(t, port, cli.RemoteAddr().Port())
		assert.Positive(t, cli.MSS())

		err := cli.Write(make([]byte, cli.SendBuffer()+1), 0)
		assert.Equal(t, api.ErrCodeMem, api.CodeOf(err))

		if err := cli.Write(payload, api.WriteFlagCopy); err != nil {
			return err
		}
		assert.Equal(t, DefaultConfig().SendBuffer-len(payload), cli.SendBuffer())
		return cli.Output()
	}))

	select {
	case n := <-sent:
		assert.Equal(t, len(payload), n)
	case <-time.After(5 * time.Second):
		t.Fatal("no sent notification")
	}

	var got []byte
	for len(got) < len(payload) {
		select {
		case b := <-received:
			got = append(got, b...)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of %d bytes", len(got), len(payload))
		}
	}
	assert.Equal(t, payload, got)

	require.NoError(t, s.Call(cli.Close))
	select {
	case <-eof:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not observe end of stream")
	}
	assert.Eventually(t, func() bool { return s.BuffersInUse() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStack_MaxHandles(t *testing.T) {
	s := newTestStack(t, &Config{MaxHandles: 1})

	h, err := s.NewHandle()
	require.NoError(t, err)
	_, err = s.NewHandle()
	require.ErrorIs(t, err, api.ErrAllocationFailed)

	require.NoError(t, s.Call(func() error {
		h.Abort()
		return nil
	}))
	_, err = s.NewHandle()
	require.NoError(t, err)
}

func TestStack_BindInUse(t *testing.T) {
	s := newTestStack(t, nil)
	_, port, _ := listen(t, s, nil)

	h, err := s.NewHandle()
	require.NoError(t, err)
	err = s.Call(func() error { return h.Bind(loopback, port) })
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeInUse, api.CodeOf(err))
}

func TestStack_ConnectRefused(t *testing.T) {
	s := newTestStack(t, nil)
	ln, port, _ := listen(t, s, nil)
	require.NoError(t, s.Call(ln.Close))

	h, err := s.NewHandle()
	require.NoError(t, err)
	codes := make(chan api.ErrorCode, 1)
	require.NoError(t, s.Call(func() error {
		h.SetHooks(&api.Hooks{OnError: func(c api.ErrorCode) { codes <- c }})
		return h.Connect(loopback, port)
	}))
	select {
	case c := <-codes:
		assert.Equal(t, api.ErrCodeReset, c)
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
	assert.Equal(t, 0, s.Live())
}

func TestStack_ShutdownReportsAbort(t *testing.T) {
	s := newTestStack(t, nil)
	serverCodes := make(chan api.ErrorCode, 1)
	_, port, accepted := listen(t, s, func(api.Handle) *api.Hooks {
		return &api.Hooks{OnError: func(c api.ErrorCode) { serverCodes <- c }}
	})

	cli, err := s.NewHandle()
	require.NoError(t, err)
	connected := make(chan struct{})
	clientCodes := make(chan api.ErrorCode, 1)
	require.NoError(t, s.Call(func() error {
		cli.SetHooks(&api.Hooks{
			OnConnected: func() { close(connected) },
			OnError:     func(c api.ErrorCode) { clientCodes <- c },
		})
		return cli.Connect(loopback, port)
	}))
	<-connected
	<-accepted

	require.NoError(t, s.Shutdown())
	for _, codes := range []chan api.ErrorCode{clientCodes, serverCodes} {
		select {
		case c := <-codes:
			assert.Equal(t, api.ErrCodeAborted, c)
		case <-time.After(time.Second):
			t.Fatal("abort not reported")
		}
	}
	assert.Equal(t, 0, s.Live())
	require.NoError(t, s.Call(func() error {
		assert.Equal(t, api.TCPStateClosed, cli.State())
		return nil
	}))
}

func TestStack_PollTicks(t *testing.T) {
	s := newTestStack(t, nil)
	polls := make(chan struct{}, 64)
	_, port, accepted := listen(t, s, func(api.Handle) *api.Hooks {
		return &api.Hooks{OnPoll: func() {
			select {
			case polls <- struct{}{}:
			default:
			}
		}}
	})
	cli, err := s.NewHandle()
	require.NoError(t, err)
	require.NoError(t, s.Call(func() error { return cli.Connect(loopback, port) }))
	<-accepted

	for i := 0; i < 3; i++ {
		select {
		case <-polls:
		case <-time.After(2 * time.Second):
			t.Fatal("poll hook not raised")
		}
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, api.ErrCodeOK, codeOf(nil))
	assert.Equal(t, api.ErrCodeReset, codeOf(&os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}))
	assert.Equal(t, api.ErrCodeInUse, codeOf(syscall.EADDRINUSE))
	assert.Equal(t, api.ErrCodeTimeout, codeOf(context.DeadlineExceeded))
	assert.Equal(t, api.ErrCodeAborted, codeOf(context.Canceled))
	assert.Equal(t, api.ErrCodeConn, codeOf(errors.New("other")))
}

func TestResolver_Literal(t *testing.T) {
	r := NewResolver(nil)
	a, err := r.LookupAddr(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, loopback, a)
}
