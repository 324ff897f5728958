// Package transport holds the TCP plumbing shared by the sender, the receiver
// and the IPC bridge.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/net/netutil"
)

const (
	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
)

// Dial connects to addr over TCP, retrying up to retries extra times with
// exponential backoff.
func Dial(ctx context.Context, addr string, retries int) (net.Conn, error) {
	var dialer net.Dialer
	var conn net.Conn

	op := func() error {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	// WithMaxRetries treats a cap of zero as unlimited
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if retries > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = retryInitialInterval
		b.MaxInterval = retryMaxInterval
		policy = backoff.WithMaxRetries(b, uint64(retries))
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

// Listen binds addr. maxConns > 0 caps the number of simultaneously open
// accepted connections; further Accepts block until one closes.
func Listen(addr string, maxConns int) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return l, nil
}

// PortAddr turns a port into a listen address on all interfaces.
func PortAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}
