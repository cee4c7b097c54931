package facade_test

import (
	"bytes"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/async"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/facade"
)

func newRuntime(t *testing.T) *facade.Runtime {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.Log.Level = zerolog.GlobalLevel().String()
	cfg.Loop.TickInterval.Duration = 20 * time.Millisecond
	cfg.Executor.Workers = 2
	cfg.Listener.Addr = "127.0.0.1"
	cfg.Listener.Port = 0
	rt, err := facade.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown() })
	return rt
}

func TestRuntime_LoopbackExchange(t *testing.T) {
	rt := newRuntime(t)

	var mu sync.Mutex
	var got bytes.Buffer
	l, err := rt.NewListener(nil)
	require.NoError(t, err)
	l.OnConnect(func(c *async.Conn) {
		c.OnData(func(c *async.Conn, data []byte) {
			mu.Lock()
			got.Write(data)
			full := got.Len() == 100
			mu.Unlock()
			if full {
				c.Close()
			}
		})
	})
	require.NoError(t, l.Begin())
	addr := l.Addr()
	require.NotZero(t, addr.Port())

	payload := bytes.Repeat([]byte{0x5a}, 100)
	var disconnected atomic.Int32
	recycled := make(chan struct{})
	c := rt.NewConn()
	c.OnConnected(func(c *async.Conn) {
		assert.Equal(t, 100, c.Write(payload, api.WriteFlagCopy))
	})
	c.OnDisconnected(func(*async.Conn) { disconnected.Add(1) })
	c.OnRecycle(func(*async.Conn) { close(recycled) })
	require.NoError(t, c.Connect(netip.MustParseAddr("127.0.0.1"), addr.Port()))

	select {
	case <-recycled:
	case <-time.After(5 * time.Second):
		t.Fatal("client connection was not recycled")
	}
	assert.EqualValues(t, 1, disconnected.Load())
	assert.Eventually(t, func() bool {
		return c.Lifecycle() == async.StateUninitialized
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, payload, got.Bytes())
	mu.Unlock()

	stats := rt.Control().Stats()
	assert.Contains(t, stats, "debug.tcp.live")
	assert.Contains(t, stats, "debug.listeners")
}

// Client sends 100 bytes and closes; the server sees one connect, all bytes
// and one disconnect, and its connection goes back to the pool.
func TestRuntime_ClientCloseReachesServer(t *testing.T) {
	rt := newRuntime(t)

	var (
		connects, disconnects atomic.Int32
		received              atomic.Int64
	)
	gotAll := make(chan struct{})
	serverRecycled := make(chan *async.Conn, 1)
	l, err := rt.NewListener(nil)
	require.NoError(t, err)
	l.OnConnect(func(c *async.Conn) {
		connects.Add(1)
		c.OnData(func(_ *async.Conn, data []byte) {
			if received.Add(int64(len(data))) == 100 {
				close(gotAll)
			}
		})
		c.OnDisconnected(func(*async.Conn) { disconnects.Add(1) })
		c.OnRecycle(func(c *async.Conn) { serverRecycled <- c })
	})
	require.NoError(t, l.Begin())

	c := rt.NewConn()
	c.OnConnected(func(c *async.Conn) {
		assert.Equal(t, 100, c.Write(make([]byte, 100), api.WriteFlagCopy))
	})
	require.NoError(t, c.Connect(netip.MustParseAddr("127.0.0.1"), l.Addr().Port()))

	select {
	case <-gotAll:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive the payload")
	}
	c.Close()

	var sc *async.Conn
	select {
	case sc = <-serverRecycled:
	case <-time.After(5 * time.Second):
		t.Fatal("server connection was not recycled")
	}
	assert.EqualValues(t, 1, connects.Load())
	assert.EqualValues(t, 1, disconnects.Load())
	assert.EqualValues(t, 100, received.Load())
	assert.Eventually(t, func() bool {
		return sc.Lifecycle() == async.StatePooled && l.Pool().Free() >= 1
	}, time.Second, 5*time.Millisecond)
}

// Connections still open at shutdown are torn down and recycled once.
func TestRuntime_ShutdownRecyclesLiveConns(t *testing.T) {
	rt := newRuntime(t)

	var serverRecycles, clientRecycles atomic.Int32
	serverConn := make(chan *async.Conn, 1)
	l, err := rt.NewListener(nil)
	require.NoError(t, err)
	l.OnConnect(func(c *async.Conn) {
		c.OnRecycle(func(*async.Conn) { serverRecycles.Add(1) })
		serverConn <- c
	})
	require.NoError(t, l.Begin())

	connected := make(chan struct{})
	c := rt.NewConn()
	c.OnConnected(func(*async.Conn) { close(connected) })
	c.OnRecycle(func(*async.Conn) { clientRecycles.Add(1) })
	require.NoError(t, c.Connect(netip.MustParseAddr("127.0.0.1"), l.Addr().Port()))

	var sc *async.Conn
	for _, wait := range []func(){
		func() { <-connected },
		func() { sc = <-serverConn },
	} {
		done := make(chan struct{})
		go func() { wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("connection not established")
		}
	}
	require.True(t, c.IsActive())
	require.True(t, sc.IsActive())

	require.NoError(t, rt.Shutdown())

	assert.Eventually(t, func() bool {
		return clientRecycles.Load() == 1 && serverRecycles.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.IsActive())
	assert.False(t, sc.IsActive())
	assert.Equal(t, async.StateUninitialized, c.Lifecycle())
	assert.Zero(t, c.Pending())
	assert.Zero(t, sc.Pending())
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, clientRecycles.Load())
	assert.EqualValues(t, 1, serverRecycles.Load())
}

func TestRuntime_InvalidConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Listener.Port = -1
	_, err := facade.New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestRuntime_ShutdownIsIdempotent(t *testing.T) {
	rt := newRuntime(t)
	l, err := rt.NewListener(nil)
	require.NoError(t, err)
	require.NoError(t, l.Begin())

	require.NoError(t, rt.Shutdown())
	require.NoError(t, rt.Shutdown())

	_, err = rt.NewListener(nil)
	assert.ErrorIs(t, err, api.ErrLoopClosed)
}

func TestRuntime_ConfigExposed(t *testing.T) {
	rt := newRuntime(t)
	assert.Equal(t, "127.0.0.1:0", rt.Control().GetConfig()["listener.addr"])
	assert.Same(t, rt.Config(), rt.Config())
	assert.NotNil(t, rt.Env().Resolver)
}
