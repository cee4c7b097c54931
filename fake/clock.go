package fake

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-tcp/api"
)

// Ensure compile-time interface compliance.
var (
	_ api.Clock    = (*Clock)(nil)
	_ api.Resolver = (*Resolver)(nil)
)

// Clock is a manually advanced monotonic clock.
type Clock struct {
	now atomic.Int64
}

// NewClock creates a clock reading start.
func NewClock(start time.Duration) *Clock {
	c := &Clock{}
	c.now.Store(int64(start))
	return c
}

// Now implements api.Clock.
func (c *Clock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

// ErrNoSuchHost is returned by Resolver for unknown names.
var ErrNoSuchHost = errors.New("fake: no such host")

// Resolver resolves names from a static table.
type Resolver struct {
	mu    sync.Mutex
	addrs map[string]netip.Addr
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{addrs: make(map[string]netip.Addr)}
}

// Set maps name to addr.
func (r *Resolver) Set(name string, addr netip.Addr) {
	r.mu.Lock()
	r.addrs[name] = addr
	r.mu.Unlock()
}

// LookupAddr implements api.Resolver.
func (r *Resolver) LookupAddr(ctx context.Context, name string) (netip.Addr, error) {
	if err := ctx.Err(); err != nil {
		return netip.Addr{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.addrs[name]
	if !ok {
		return netip.Addr{}, ErrNoSuchHost
	}
	return a, nil
}
