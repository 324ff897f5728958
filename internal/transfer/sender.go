package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Sender struct {
	config   SenderConfig
	logger   *logrus.Logger
	notifier events.Notifier
	name     string

	mu    sync.Mutex
	addr  string
	files []string
}

func NewSender(cfg SenderConfig) (*Sender, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = events.Discard
	}

	name := cfg.SenderName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve sender name: %w", err)
		}
		name = host
	}
	if _, err := protocol.EncodeField(name); err != nil {
		return nil, fmt.Errorf("sender name %q: %w", name, err)
	}

	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	return &Sender{
		config:   cfg,
		logger:   logger,
		notifier: notifier,
		name:     name,
	}, nil
}

func (s *Sender) Name() string {
	return s.name
}

// Configure sets the receiver every following Send and SendText talks to.
func (s *Sender) Configure(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = net.JoinHostPort(host, strconv.Itoa(port))
}

// Enqueue adds a file to the next Send. The base name must fit a wire field.
func (s *Sender) Enqueue(path string) error {
	name := filepath.Base(path)
	if _, err := protocol.EncodeField(name); err != nil {
		return &TransferError{Path: path, Op: "enqueue", Kind: ErrDecode, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, path)
	return nil
}

// Queued returns the files waiting for the next Send.
func (s *Sender) Queued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Send transfers every queued file over its own connection and drains the
// queue. Results are in enqueue order. The returned error is the first
// failed transfer, or the dial failure that stopped the batch.
func (s *Sender) Send(ctx context.Context) ([]Result, error) {
	s.mu.Lock()
	addr := s.addr
	files := s.files
	s.files = nil
	s.mu.Unlock()

	if addr == "" {
		return nil, ErrNotConfigured
	}

	results := make([]Result, len(files))
	var g errgroup.Group
	var dialErr error

	for i, path := range files {
		conn, err := s.connect(ctx, addr, protocol.MsgFile)
		if err != nil {
			dialErr = &TransferError{Path: path, Peer: addr, Op: "dial", Kind: ErrConnection, Err: err}
			for j := i; j < len(files); j++ {
				results[j] = Result{
					Path:     files[j],
					FileName: filepath.Base(files[j]),
					Peer:     addr,
					Outcome:  OutcomeFailed,
					Err:      dialErr,
				}
			}
			s.emit(events.Event{Kind: events.TransferFailed, FileName: filepath.Base(path), Peer: addr, Err: dialErr})
			s.logger.WithError(err).WithField("peer", addr).Error("Failed to connect to receiver")
			break
		}

		i, path := i, path
		g.Go(func() error {
			results[i] = s.sendFile(ctx, conn, path)
			return results[i].Err
		})
	}

	err := g.Wait()
	if err == nil {
		err = dialErr
	}
	return results, err
}

func (s *Sender) connect(ctx context.Context, addr string, kind protocol.MessageType) (net.Conn, error) {
	conn, err := transport.Dial(ctx, addr, s.config.DialRetries)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteMessageType(conn, kind); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Sender) sendFile(ctx context.Context, conn net.Conn, path string) Result {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	session := &Session{
		Role:       RoleSender,
		Kind:       consent.KindFile,
		Path:       path,
		FileName:   filepath.Base(path),
		SenderName: s.name,
		Peer:       conn.RemoteAddr().String(),
	}
	log := s.logger.WithFields(logrus.Fields{"file": session.FileName, "peer": session.Peer})

	fail := func(op string, kind, err error) Result {
		terr := &TransferError{Path: path, Peer: session.Peer, Op: op, Kind: kind, Err: err}
		session.Fail(terr)
		s.emit(events.Event{Kind: events.TransferFailed, FileName: session.FileName, Peer: session.Peer, Err: terr})
		log.WithError(err).Errorf("Failed to %s", op)
		return session.Result()
	}

	f, err := os.Open(path)
	if err != nil {
		return fail("open file", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	c := transport.NewIdleConn(conn, s.config.IdleTimeout)
	if err := protocol.WriteField(c, session.FileName); err != nil {
		return fail("write file name", ErrIO, err)
	}
	if err := protocol.WriteField(c, s.name); err != nil {
		return fail("write sender name", ErrIO, err)
	}

	// no deadline while the receiver's user decides
	decision, err := protocol.ReadDecision(conn)
	if err != nil {
		return fail("read decision", ErrConnection, err)
	}
	if !decision.Allowed() {
		session.Reject()
		s.emit(events.Event{Kind: events.TransferRejected, FileName: session.FileName, Peer: session.Peer})
		log.Info("Receiver rejected file")
		return session.Result()
	}

	s.emit(events.Event{Kind: events.TransferStarted, FileName: session.FileName, Peer: session.Peer, Sender: s.name})
	log.Debug("Streaming file")

	src := &countingReader{r: f, session: session, progress: s.config.Progress}
	if _, err := io.Copy(c, src); err != nil {
		return fail("stream file", ErrIO, err)
	}
	if err := c.CloseWrite(); err != nil {
		return fail("close stream", ErrIO, err)
	}

	session.Complete()
	s.emit(events.Event{
		Kind:     events.TransferCompleted,
		FileName: session.FileName,
		Peer:     session.Peer,
		Bytes:    session.Bytes(),
	})
	log.WithField("bytes", session.Bytes()).Info("File sent")
	return session.Result()
}

// SendText sends clipboard text on a fresh connection. A denial yields
// OutcomeRejected and a nil error.
func (s *Sender) SendText(ctx context.Context, text string) (Result, error) {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()

	if addr == "" {
		return Result{}, ErrNotConfigured
	}

	session := &Session{
		Role:       RoleSender,
		Kind:       consent.KindText,
		FileName:   consent.TextDescription,
		SenderName: s.name,
		Peer:       addr,
	}
	fail := func(op string, kind, err error) (Result, error) {
		terr := &TransferError{Peer: session.Peer, Op: op, Kind: kind, Err: err}
		session.Fail(terr)
		s.emit(events.Event{Kind: events.TransferFailed, FileName: session.FileName, Peer: session.Peer, Err: terr})
		return session.Result(), terr
	}

	if !utf8.ValidString(text) {
		return fail("validate text", ErrDecode, fmt.Errorf("%w: text is not valid UTF-8", protocol.ErrDecode))
	}

	conn, err := s.connect(ctx, addr, protocol.MsgText)
	if err != nil {
		return fail("dial", ErrConnection, err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	session.Peer = conn.RemoteAddr().String()

	decision, err := protocol.ReadDecision(conn)
	if err != nil {
		return fail("read decision", ErrConnection, err)
	}
	if !decision.Allowed() {
		session.Reject()
		s.emit(events.Event{Kind: events.TransferRejected, FileName: session.FileName, Peer: session.Peer})
		return session.Result(), nil
	}

	c := transport.NewIdleConn(conn, s.config.IdleTimeout)
	dst := &countingWriter{w: c, session: session}
	if _, err := io.WriteString(dst, text); err != nil {
		return fail("write text", ErrIO, err)
	}
	if err := c.CloseWrite(); err != nil {
		return fail("close stream", ErrIO, err)
	}

	session.Complete()
	s.emit(events.Event{Kind: events.TransferCompleted, FileName: session.FileName, Peer: session.Peer, Bytes: session.Bytes()})
	s.logger.WithFields(logrus.Fields{"peer": session.Peer, "bytes": session.Bytes()}).Info("Text sent")
	return session.Result(), nil
}

func (s *Sender) emit(e events.Event) {
	s.notifier.Notify(events.Stamp(e))
}
