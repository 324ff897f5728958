package ipc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/logger"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()

	// unix socket paths are short; t.TempDir can exceed the limit
	dir, err := os.MkdirTemp("", "pd-ipc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	srv := NewServer(ServerConfig{
		SocketPath: filepath.Join(dir, "s.sock"),
		Logger:     logger.New(io.Discard, logrus.PanicLevel),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Listen(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(srv.Path())
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	return srv
}

func dialClient(t *testing.T, srv *Server, want int) *Client {
	t.Helper()
	c, err := Dial(srv.Path())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, func() bool { return srv.Clients() == want }, 2*time.Second, 5*time.Millisecond)
	return c
}

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	e := events.Event{
		Kind:     events.ReceiveFailed,
		FileName: "a.txt",
		Peer:     "10.0.0.2:9000",
		Bytes:    42,
		Err:      errors.New("disk full"),
		Time:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, WriteMessage(&buf, EventMessage(e)))

	var length uint32
	require.NoError(t, binary.Read(bytes.NewReader(buf.Bytes()), binary.BigEndian, &length))
	assert.Equal(t, int(length), buf.Len()-4)

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, msg.Type)

	got := EventFromMessage(msg)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.FileName, got.FileName)
	assert.Equal(t, int64(42), got.Bytes)
	assert.EqualError(t, got.Err, "disk full")
	assert.True(t, e.Time.Equal(got.Time))
}

func TestReadMessageRejectsHugeFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1)))

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestServerBroadcastsEvents(t *testing.T) {
	srv := startServer(t)
	a := dialClient(t, srv, 1)
	b := dialClient(t, srv, 2)

	srv.Notify(events.Event{Kind: events.TextReceived, Content: "hi", Peer: "10.0.0.2:1"})

	for _, c := range []*Client{a, b} {
		msg, err := c.Receive()
		require.NoError(t, err)
		require.Equal(t, TypeEvent, msg.Type)
		e := EventFromMessage(msg)
		assert.Equal(t, events.TextReceived, e.Kind)
		assert.Equal(t, "hi", e.Content)
		assert.False(t, e.Time.IsZero())
	}
}

func TestConsentOverIPC(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv, 1)

	gate := consent.NewGate(consent.Config{Surface: srv, Timeout: 5 * time.Second})
	decided := make(chan protocol.Decision, 1)
	go func() {
		d, _ := gate.Request(context.Background(), consent.Request{
			Kind:       consent.KindFile,
			FileName:   "a.txt",
			SenderName: "laptop",
			PeerAddr:   "10.0.0.2:9000",
		})
		decided <- d
	}()

	msg, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, TypeConsentRequest, msg.Type)
	req := RequestFromMessage(msg)
	assert.Equal(t, "a.txt", req.FileName)
	assert.Equal(t, "laptop", req.SenderName)
	assert.NotEmpty(t, req.ID)

	require.NoError(t, c.Respond(req.ID, protocol.Allow))
	require.NoError(t, c.AwaitResult(req.ID))

	select {
	case d := <-decided:
		assert.Equal(t, protocol.Allow, d)
	case <-time.After(2 * time.Second):
		t.Fatal("gate did not receive the decision")
	}
}

func TestLateClientSeesPendingRequest(t *testing.T) {
	srv := startServer(t)
	gate := consent.NewGate(consent.Config{Surface: srv, Timeout: 5 * time.Second})

	decided := make(chan protocol.Decision, 1)
	go func() {
		d, _ := gate.Request(context.Background(), consent.Request{Kind: consent.KindText, FileName: consent.TextDescription})
		decided <- d
	}()
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.requests) == 1
	}, 2*time.Second, 5*time.Millisecond)

	c := dialClient(t, srv, 1)
	msg, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, TypeConsentRequest, msg.Type)

	id := msg.Text("id")
	require.NoError(t, c.Respond(id, protocol.Deny))
	require.NoError(t, c.AwaitResult(id))
	assert.Equal(t, protocol.Deny, <-decided)
}

func TestRespondUnknownRequest(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv, 1)

	require.NoError(t, c.Respond("missing", protocol.Allow))
	err := c.AwaitResult("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending consent request")
}

func TestClientDisconnectUnregisters(t *testing.T) {
	srv := startServer(t)
	c := dialClient(t, srv, 1)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool { return srv.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	srv.Notify(events.Event{Kind: events.ReceiveStarted})
}

func pendingFileNames(srv *Server) []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	var names []string
	for _, p := range srv.requests {
		names = append(names, p.req.FileName)
	}
	return names
}

func TestPublishPrunesFinishedRequests(t *testing.T) {
	srv := startServer(t)
	gate := consent.NewGate(consent.Config{Surface: srv, Timeout: 50 * time.Millisecond})

	_, err := gate.Request(context.Background(), consent.Request{Kind: consent.KindFile, FileName: "expired.txt"})
	require.ErrorIs(t, err, consent.ErrTimeout)
	assert.Equal(t, []string{"expired.txt"}, pendingFileNames(srv))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = gate.Request(ctx, consent.Request{Kind: consent.KindFile, FileName: "fresh.txt"})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		names := pendingFileNames(srv)
		return len(names) == 1 && names[0] == "fresh.txt"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLateClientSeesEveryPendingRequest(t *testing.T) {
	srv := startServer(t)
	gate := consent.NewGate(consent.Config{Surface: srv})

	const n = 60
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.Request(ctx, consent.Request{Index: uint64(i), Kind: consent.KindFile, FileName: "f.txt"})
		}()
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	require.Eventually(t, func() bool { return len(pendingFileNames(srv)) == n }, 2*time.Second, 5*time.Millisecond)

	c := dialClient(t, srv, 1)
	seen := make(map[uint64]bool)
	for i := 0; i < n; i++ {
		msg, err := c.Receive()
		require.NoError(t, err)
		require.Equal(t, TypeConsentRequest, msg.Type)
		req := RequestFromMessage(msg)
		assert.Equal(t, uint64(i), req.Index, "replayed oldest first")
		seen[req.Index] = true
	}
	assert.Len(t, seen, n)
}
