package ssrf

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
)

type fakeAnswer struct {
	a, aaaa       []string
	errA, errAAAA error
	panicA        bool
}

// fakeResolver serves canned answers and counts every lookup. Unknown hosts
// fail both lookups.
type fakeResolver struct {
	mu      sync.Mutex
	answers map[string]fakeAnswer
	calls   atomic.Int64
	hosts   []string
}

func newFakeResolver(answers map[string]fakeAnswer) *fakeResolver {
	return &fakeResolver{answers: answers}
}

func (f *fakeResolver) LookupA(ctx context.Context, host string) ([]netip.Addr, error) {
	ans, ok := f.record(host)
	if !ok {
		return nil, errNotFound(host)
	}
	if ans.panicA {
		panic("resolver exploded")
	}
	if ans.errA != nil {
		return nil, ans.errA
	}
	return mustAddrs(ans.a), nil
}

func (f *fakeResolver) LookupAAAA(ctx context.Context, host string) ([]netip.Addr, error) {
	ans, ok := f.record(host)
	if !ok {
		return nil, errNotFound(host)
	}
	if ans.errAAAA != nil {
		return nil, ans.errAAAA
	}
	return mustAddrs(ans.aaaa), nil
}

func (f *fakeResolver) record(host string) (fakeAnswer, bool) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	ans, ok := f.answers[host]
	return ans, ok
}

func (f *fakeResolver) queriedHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hosts...)
}

type notFoundError string

func (e notFoundError) Error() string { return "no such host " + string(e) }

func errNotFound(host string) error { return notFoundError(host) }

func mustAddrs(ss []string) []netip.Addr {
	out := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		out = append(out, netip.MustParseAddr(s))
	}
	return out
}

// blockingResolver waits for the context to end.
type blockingResolver struct{}

func (blockingResolver) LookupA(ctx context.Context, _ string) ([]netip.Addr, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingResolver) LookupAAAA(ctx context.Context, _ string) ([]netip.Addr, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
