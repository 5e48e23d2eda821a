package fetch

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// ConnectFunc opens a TCP connection to an already validated ip:port.
type ConnectFunc func(addr string, timeout time.Duration) (net.Conn, error)

// guardedDial re-checks the connect host with the guard and connects only
// to the addresses that passed, so the checked address is the one used.
// Addresses are tried in resolver order.
func (f *Fetcher) guardedDial(addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	// fasthttp dials without a context; the guard applies its own resolve timeout.
	addrs, res := f.guard.CheckHost(context.Background(), host)
	if !res.Valid {
		f.logger.Warn("Connect address rejected at dial time",
			zap.String("host", host),
			zap.String("reason", res.Reason))
		return nil, &BlockedError{URL: addr, Result: res}
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}

	var lastErr error
	for _, ip := range addrs {
		conn, err := f.connect(net.JoinHostPort(ip.String(), port), f.dialTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		f.logger.Debug("Connect attempt failed",
			zap.String("host", host),
			zap.String("ip", ip.String()),
			zap.Error(err))
	}
	return nil, fmt.Errorf("connect to %s failed: %w", host, lastErr)
}
