package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

const clientQueueSize = 100

type ServerConfig struct {
	SocketPath string
	Logger     *logrus.Logger
}

type pendingRequest struct {
	req       consent.Request
	responder consent.Responder
}

// Server broadcasts events and consent requests to every connected client
// and forwards their consent responses. It is both an events.Notifier and a
// consent.Surface.
type Server struct {
	path   string
	logger *logrus.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	requests map[string]pendingRequest
	listener net.Listener
}

var (
	_ events.Notifier = (*Server)(nil)
	_ consent.Surface = (*Server)(nil)
)

type client struct {
	conn net.Conn
	out  chan Message
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Server{
		path:     cfg.SocketPath,
		logger:   logger,
		clients:  make(map[*client]struct{}),
		requests: make(map[string]pendingRequest),
	}
}

func (s *Server) Path() string {
	return s.path
}

// Listen serves the socket until ctx is done. A stale socket file from an
// earlier run is replaced.
func (s *Server) Listen(ctx context.Context) error {
	_ = os.Remove(s.path)

	l, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer func() {
		_ = l.Close()
		_ = os.Remove(s.path)
	}()

	s.logger.WithField("socket", s.path).Info("IPC server started")

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.WithError(err).Warn("Failed to accept IPC connection")
			continue
		}
		s.logger.Debug("Accepted a new IPC connection")

		c := s.register(conn)
		go s.writeLoop(c)
		go s.readLoop(c)
	}
}

// register adds a client and queues every request still waiting for a
// decision, oldest first.
func (s *Server) register(conn net.Conn) *client {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	pending := make([]consent.Request, 0, len(s.requests))
	for _, p := range s.requests {
		pending = append(pending, p.req)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Index < pending[j].Index })

	c := &client{conn: conn, out: make(chan Message, clientQueueSize+len(pending))}
	for _, req := range pending {
		c.out <- RequestMessage(req)
	}
	s.clients[c] = struct{}{}
	return c
}

type pendingLister interface {
	Pending() []consent.Request
}

// prune drops requests their responder no longer waits on. Caller holds s.mu.
func (s *Server) prune() {
	live := make(map[pendingLister]map[string]bool)
	for id, p := range s.requests {
		lister, ok := p.responder.(pendingLister)
		if !ok {
			continue
		}
		ids, seen := live[lister]
		if !seen {
			ids = make(map[string]bool)
			for _, req := range lister.Pending() {
				ids[req.ID] = true
			}
			live[lister] = ids
		}
		if !ids[id] {
			delete(s.requests, id)
		}
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.out)
	}
}

func (s *Server) writeLoop(c *client) {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.out {
		if err := WriteMessage(c.conn, msg); err != nil {
			s.logger.WithError(err).Debug("Failed to write to IPC client")
			s.unregister(c)
			// drain so broadcast never blocks on a dead client
			for range c.out {
			}
			return
		}
	}
}

func (s *Server) readLoop(c *client) {
	defer s.unregister(c)

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.WithError(err).Debug("Failed to read from IPC client")
			}
			return
		}

		switch msg.Type {
		case TypeConsentResponse:
			id := msg.Text("id")
			err := s.respond(id, msg.Text("decision"))
			s.send(c, resultMessage(id, err))
		default:
			s.logger.WithField("type", msg.Type).Warn("Unhandled IPC message type")
		}
	}
}

func (s *Server) respond(id, decision string) error {
	d, err := protocol.ParseDecision(decision)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p, ok := s.requests[id]
	delete(s.requests, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", consent.ErrUnknownRequest, id)
	}
	return p.responder.Respond(id, d)
}

func (s *Server) send(c *client, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.out <- msg:
	default:
		s.logger.Warn("IPC client is not keeping up, dropping message")
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- msg:
		default:
			s.logger.Warn("IPC client is not keeping up, dropping message")
		}
	}
}

func (s *Server) Notify(e events.Event) {
	s.broadcast(EventMessage(events.Stamp(e)))
}

// Publish announces req to every client. Clients connecting later still see
// it until it is answered.
func (s *Server) Publish(req consent.Request, r consent.Responder) {
	s.mu.Lock()
	s.prune()
	s.requests[req.ID] = pendingRequest{req: req, responder: r}
	s.mu.Unlock()

	s.broadcast(RequestMessage(req))
}

// Clients reports how many IPC clients are connected.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
