package transport

import (
	"net"
	"time"
)

// IdleConn refreshes the deadline before every read and write, so a peer that
// stops sending or receiving for longer than the timeout gets cut off without
// bounding the total length of a transfer.
type IdleConn struct {
	net.Conn
	timeout time.Duration
}

// NewIdleConn wraps conn. A timeout of zero disables deadlines.
func NewIdleConn(conn net.Conn, timeout time.Duration) *IdleConn {
	return &IdleConn{Conn: conn, timeout: timeout}
}

func (c *IdleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *IdleConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

func (c *IdleConn) CloseWrite() error {
	return CloseWrite(c.Conn)
}

// CloseWrite half-closes conn so the peer reads EOF while our side can still
// read. Connections without half-close support are closed fully.
func CloseWrite(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return conn.Close()
}
