package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialAccept(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, l.Addr().String(), 0)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	select {
	case c := <-accepted:
		_ = c.Close()
	case <-ctx.Done():
		t.Fatal("Timeout waiting for connection")
	}
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err = Dial(ctx, addr, 2)
	assert.Error(t, err)
	// Two retries with a 200ms initial interval cannot finish instantly.
	assert.Greater(t, time.Since(start), 100*time.Millisecond)
}

func TestDialWithoutRetriesTriesOnce(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err = Dial(ctx, addr, 0)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.NoError(t, ctx.Err())
}

func TestIdleConnTimesOut(t *testing.T) {
	server, client := net.Pipe()
	defer func() { _ = server.Close() }()
	defer func() { _ = client.Close() }()

	idle := NewIdleConn(server, 30*time.Millisecond)
	buf := make([]byte, 1)
	_, err := idle.Read(buf)

	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestCloseWriteSignalsEOF(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	got := make(chan []byte, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		data, _ := io.ReadAll(c)
		_, _ = c.Write([]byte("ack"))
		got <- data
	}()

	conn, err := Dial(context.Background(), l.Addr().String(), 0)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	idle := NewIdleConn(conn, time.Second)
	_, err = idle.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, idle.CloseWrite())

	reply, err := io.ReadAll(idle)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(reply))
	assert.Equal(t, "payload", string(<-got))
}

func TestPortAddr(t *testing.T) {
	assert.Equal(t, ":9000", PortAddr(9000))
}
