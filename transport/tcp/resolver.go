// File: transport/tcp/resolver.go
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/momentics/hioload-tcp/api"
)

// Ensure compile-time interface compliance.
var _ api.Resolver = (*Resolver)(nil)

// Resolver resolves host names to IPv4 addresses through the system resolver.
type Resolver struct {
	r *net.Resolver
}

// NewResolver wraps r; nil selects net.DefaultResolver.
func NewResolver(r *net.Resolver) *Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Resolver{r: r}
}

// LookupAddr returns the first IPv4 address of name. Literal addresses are
// returned without a lookup.
func (r *Resolver) LookupAddr(ctx context.Context, name string) (netip.Addr, error) {
	if a, err := netip.ParseAddr(name); err == nil {
		return a.Unmap(), nil
	}
	addrs, err := r.r.LookupNetIP(ctx, "ip4", name)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("tcp: no IPv4 address for %q", name)
	}
	return addrs[0].Unmap(), nil
}
