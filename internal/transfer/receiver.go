package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
	"github.com/sirupsen/logrus"
)

// acceptBackoff is the pause after a transient Accept error.
const acceptBackoff = 50 * time.Millisecond

type Receiver struct {
	config   ReceiverConfig
	logger   *logrus.Logger
	notifier events.Notifier

	index atomic.Uint64
	conns sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.DownloadDir == "" {
		return nil, errors.New("receiver needs a download directory")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("receiver needs an authorizer")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = events.Discard
	}

	if cfg.MaxConns == 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxTextSize == 0 {
		cfg.MaxTextSize = DefaultMaxTextSize
	}

	return &Receiver{
		config:   cfg,
		logger:   logger,
		notifier: notifier,
	}, nil
}

// Listen binds every interface on port and serves until ctx is done.
func (r *Receiver) Listen(ctx context.Context, port int) error {
	l, err := transport.Listen(transport.PortAddr(port), r.config.MaxConns)
	if err != nil {
		return fmt.Errorf("%w: bind port %d: %w", ErrConnection, port, err)
	}
	return r.Serve(ctx, l)
}

// Serve runs the accept loop on l and closes it on return. Connections are
// handled on their own goroutines; use Wait to join them.
func (r *Receiver) Serve(ctx context.Context, l net.Listener) error {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer func() { _ = l.Close() }()

	r.logger.WithFields(logrus.Fields{
		"addr": l.Addr().String(),
		"dir":  r.config.DownloadDir,
	}).Info("Receiver listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%w: listener closed: %w", ErrConnection, err)
			}
			r.logger.WithError(err).Error("Failed to accept connection")
			time.Sleep(acceptBackoff)
			continue
		}

		index := r.index.Add(1) - 1
		r.conns.Add(1)
		go func() {
			defer r.conns.Done()
			r.handleConn(ctx, conn, index)
		}()
	}
}

// Addr is the bound address, or nil before Serve has started.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Wait blocks until every accepted connection has been handled.
func (r *Receiver) Wait() {
	r.conns.Wait()
}

func (r *Receiver) handleConn(ctx context.Context, conn net.Conn, index uint64) {
	peer := conn.RemoteAddr().String()
	log := r.logger.WithFields(logrus.Fields{"peer": peer, "index": index})
	log.Debug("Peer connected")
	defer func() {
		_ = conn.Close()
		log.Debug("Peer disconnected")
	}()

	c := transport.NewIdleConn(conn, r.config.IdleTimeout)
	msgType, err := protocol.ReadMessageType(c)
	if err != nil {
		log.WithError(err).Warn("Failed to read message type")
		return
	}

	switch msgType {
	case protocol.MsgFile:
		r.handleFile(ctx, c, index, log)
	case protocol.MsgText:
		r.handleText(ctx, c, index, log)
	default:
		log.WithField("type", int32(msgType)).Warn("Rejecting unknown message type")
		_ = protocol.WriteDecision(c, protocol.Deny)
	}
}

func (r *Receiver) handleFile(ctx context.Context, c *transport.IdleConn, index uint64, log *logrus.Entry) {
	session := &Session{
		Role: RoleReceiver,
		Kind: consent.KindFile,
		Peer: c.RemoteAddr().String(),
	}

	rawName, err := protocol.ReadField(c)
	if err != nil {
		log.WithError(err).Warn("Failed to read file name")
		return
	}
	senderName, err := protocol.ReadField(c)
	if err != nil {
		log.WithError(err).Warn("Failed to read sender name")
		return
	}
	session.SenderName = senderName

	name, err := SanitizeName(rawName)
	if err != nil {
		log.WithError(err).Warn("Rejecting file with unusable name")
		_ = protocol.WriteDecision(c, protocol.Deny)
		return
	}
	session.FileName = name
	log = log.WithFields(logrus.Fields{"file": name, "sender": senderName})

	if !r.authorize(ctx, c, consent.Request{
		Index:      index,
		Kind:       consent.KindFile,
		FileName:   name,
		SenderName: senderName,
		PeerAddr:   session.Peer,
	}, log) {
		return
	}

	r.receiveFile(c, session, log)
}

// authorize asks for consent and writes the decision back to the peer.
func (r *Receiver) authorize(ctx context.Context, c *transport.IdleConn, req consent.Request, log *logrus.Entry) bool {
	decision, err := r.config.Authorizer.Request(ctx, req)
	if err != nil {
		log.WithError(err).Warn("Consent not granted")
		decision = protocol.Deny
	}

	if err := protocol.WriteDecision(c, decision); err != nil {
		log.WithError(err).Warn("Failed to write decision")
		return false
	}
	if !decision.Allowed() {
		log.Info("Request denied")
		return false
	}
	return true
}

func (r *Receiver) receiveFile(c *transport.IdleConn, session *Session, log *logrus.Entry) {
	r.emit(events.Event{
		Kind:     events.ReceiveStarted,
		FileName: session.FileName,
		Peer:     session.Peer,
		Sender:   session.SenderName,
	})

	f, path, err := CreateDestination(r.config.DownloadDir, session.FileName)
	if err != nil {
		r.failReceive(session, "create file", ErrIO, err, log)
		return
	}
	session.Path = path

	_, err = io.Copy(&countingWriter{w: f, session: session}, c)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		r.failReceive(session, "receive file", ErrIO, err, log)
		return
	}

	session.Complete()
	r.emit(events.Event{
		Kind:     events.ReceiveCompleted,
		FileName: session.FileName,
		Peer:     session.Peer,
		Sender:   session.SenderName,
		Path:     path,
		Bytes:    session.Bytes(),
	})
	log.WithFields(logrus.Fields{"path": path, "bytes": session.Bytes()}).Info("File received")
}

func (r *Receiver) failReceive(session *Session, op string, kind, err error, log *logrus.Entry) {
	terr := &TransferError{Path: session.Path, Peer: session.Peer, Op: op, Kind: kind, Err: err}
	session.Fail(terr)
	r.emit(events.Event{
		Kind:     events.ReceiveFailed,
		FileName: session.FileName,
		Peer:     session.Peer,
		Sender:   session.SenderName,
		Err:      terr,
	})
	log.WithError(err).Errorf("Failed to %s", op)
}

func (r *Receiver) handleText(ctx context.Context, c *transport.IdleConn, index uint64, log *logrus.Entry) {
	session := &Session{
		Role:     RoleReceiver,
		Kind:     consent.KindText,
		FileName: consent.TextDescription,
		Peer:     c.RemoteAddr().String(),
	}
	session.SenderName = session.Peer

	if !r.authorize(ctx, c, consent.Request{
		Index:      index,
		Kind:       consent.KindText,
		FileName:   session.FileName,
		SenderName: session.SenderName,
		PeerAddr:   session.Peer,
	}, log) {
		return
	}

	limit := r.config.MaxTextSize
	data, err := io.ReadAll(io.LimitReader(c, limit+1))
	if err != nil {
		r.failReceive(session, "read text", ErrIO, err, log)
		return
	}
	if int64(len(data)) > limit {
		r.failReceive(session, "read text", ErrDecode, fmt.Errorf("%w: limit is %d bytes", ErrTextTooLarge, limit), log)
		return
	}
	if !utf8.Valid(data) {
		r.failReceive(session, "decode text", ErrDecode, fmt.Errorf("%w: text is not valid UTF-8", protocol.ErrDecode), log)
		return
	}

	session.Complete()
	r.emit(events.Event{
		Kind:     events.TextReceived,
		FileName: session.FileName,
		Peer:     session.Peer,
		Bytes:    int64(len(data)),
		Content:  string(data),
	})
}

func (r *Receiver) emit(e events.Event) {
	r.notifier.Notify(events.Stamp(e))
}
