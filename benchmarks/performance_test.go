// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-tcp components.

package benchmarks

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/async"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/facade"
	"github.com/momentics/hioload-tcp/internal/concurrency"
	"github.com/momentics/hioload-tcp/pool"
	"github.com/momentics/hioload-tcp/reactor"
)

// BenchmarkFreeListPushPop measures the lock-free stack behind the
// connection pool.
func BenchmarkFreeListPushPop(b *testing.B) {
	var f pool.FreeList[*int]
	for i := 0; i < 1024; i++ {
		v := i
		f.Push(&v)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if v, ok := f.Pop(); ok {
				f.Push(v)
			}
		}
	})
}

// BenchmarkBytePool measures receive buffer reuse.
func BenchmarkBytePool(b *testing.B) {
	p := pool.NewBytePool(2048)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.Put(p.Get())
		}
	})
}

// BenchmarkLoopCall measures the round trip of marshaling work onto the
// owner goroutine.
func BenchmarkLoopCall(b *testing.B) {
	loop := reactor.New(nil, zerolog.Nop())
	loop.Start()
	defer loop.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := loop.Call(func() error { return nil }); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkExecutorSubmit measures keyed task dispatch.
func BenchmarkExecutorSubmit(b *testing.B) {
	e := concurrency.NewExecutor(&concurrency.Config{QueueDepth: 1 << 16}, zerolog.Nop())
	defer e.Close()

	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		if !e.Submit(api.Task{Key: uint64(i%64 + 1), Post: wg.Done}) {
			wg.Done()
		}
	}
	wg.Wait()
}

// BenchmarkLoopbackWrite measures Write plus Sent completion over loopback.
func BenchmarkLoopbackWrite(b *testing.B) {
	cfg := control.DefaultConfig()
	cfg.Listener.Addr = "127.0.0.1"
	cfg.Listener.Port = 0
	rt, err := facade.New(cfg, zerolog.Nop())
	if err != nil {
		b.Fatal(err)
	}
	defer rt.Shutdown()

	l, err := rt.NewListener(nil)
	if err != nil {
		b.Fatal(err)
	}
	if err := l.Begin(); err != nil {
		b.Fatal(err)
	}

	connected := make(chan struct{})
	sent := make(chan int, 1)
	c := rt.NewConn()
	c.OnConnected(func(*async.Conn) { close(connected) })
	c.OnSent(func(_ *async.Conn, n int, _ time.Duration) { sent <- n })
	if err := c.Connect(netip.MustParseAddr("127.0.0.1"), l.Addr().Port()); err != nil {
		b.Fatal(err)
	}
	<-connected
	defer c.Close()

	payload := make([]byte, 512)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if c.Write(payload, api.WriteFlagCopy) != len(payload) {
			b.Fatal("write refused")
		}
		for acked := 0; acked < len(payload); {
			acked += <-sent
		}
	}
}
