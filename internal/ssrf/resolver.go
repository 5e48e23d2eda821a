package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"
)

// Resolver looks up A and AAAA records separately so that a failure of one
// record type does not hide the answers of the other.
type Resolver interface {
	LookupA(ctx context.Context, host string) ([]netip.Addr, error)
	LookupAAAA(ctx context.Context, host string) ([]netip.Addr, error)
}

// NetResolver resolves through a *net.Resolver.
type NetResolver struct {
	resolver *net.Resolver
}

// NewNetResolver returns a resolver backed by net.DefaultResolver.
func NewNetResolver() *NetResolver {
	return &NetResolver{resolver: net.DefaultResolver}
}

// NewNetResolverWithServer returns a resolver that sends every query to the
// given DNS server ("host:port") using the pure Go resolver.
func NewNetResolverWithServer(server string, dialTimeout time.Duration) *NetResolver {
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	return &NetResolver{resolver: &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			return d.DialContext(ctx, network, server)
		},
	}}
}

func (r *NetResolver) LookupA(ctx context.Context, host string) ([]netip.Addr, error) {
	return r.lookup(ctx, "ip4", host)
}

func (r *NetResolver) LookupAAAA(ctx context.Context, host string) ([]netip.Addr, error) {
	return r.lookup(ctx, "ip6", host)
}

func (r *NetResolver) lookup(ctx context.Context, network, host string) ([]netip.Addr, error) {
	addrs, err := r.resolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return nil, err
	}
	if network == "ip4" {
		for i, a := range addrs {
			addrs[i] = a.Unmap()
		}
	}
	return addrs, nil
}

// errNoAddresses is reported when both lookups succeed but return nothing.
var errNoAddresses = errors.New("no A or AAAA records")

// resolveAll runs both lookups concurrently. Each lookup may fail on its own;
// an error is returned only when no address came back at all.
func resolveAll(ctx context.Context, r Resolver, host string) ([]netip.Addr, error) {
	var (
		v4, v6        []netip.Addr
		errA, errAAAA error
	)

	var g errgroup.Group
	g.Go(func() error {
		v4, errA = safeLookup(ctx, r.LookupA, host)
		return nil
	})
	g.Go(func() error {
		v6, errAAAA = safeLookup(ctx, r.LookupAAAA, host)
		return nil
	})
	_ = g.Wait()

	addrs := make([]netip.Addr, 0, len(v4)+len(v6))
	addrs = append(addrs, v4...)
	addrs = append(addrs, v6...)
	if len(addrs) > 0 {
		return addrs, nil
	}

	switch {
	case errA != nil && errAAAA != nil:
		return nil, fmt.Errorf("A lookup: %v; AAAA lookup: %v", errA, errAAAA)
	case errA != nil:
		return nil, fmt.Errorf("A lookup: %w", errA)
	case errAAAA != nil:
		return nil, fmt.Errorf("AAAA lookup: %w", errAAAA)
	default:
		return nil, errNoAddresses
	}
}

// safeLookup converts a panicking resolver into an error.
func safeLookup(
	ctx context.Context,
	fn func(context.Context, string) ([]netip.Addr, error),
	host string,
) (addrs []netip.Addr, err error) {
	defer func() {
		if r := recover(); r != nil {
			addrs, err = nil, fmt.Errorf("resolver panic: %v", r)
		}
	}()
	return fn(ctx, host)
}
