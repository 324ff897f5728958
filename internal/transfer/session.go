package transfer

import (
	"io"
	"sync/atomic"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
)

type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeRejected
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "PENDING"
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeRejected:
		return "REJECTED"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Session tracks one connection. It belongs to the goroutine serving that
// connection; only the byte counter may be read from elsewhere.
type Session struct {
	Role       Role
	Kind       consent.Kind
	Path       string
	FileName   string
	SenderName string
	Peer       string

	bytes   atomic.Int64
	outcome Outcome
	err     error
}

func (s *Session) Bytes() int64 {
	return s.bytes.Load()
}

func (s *Session) Complete() {
	s.outcome = OutcomeCompleted
}

func (s *Session) Reject() {
	s.outcome = OutcomeRejected
}

func (s *Session) Fail(err error) {
	s.outcome = OutcomeFailed
	s.err = err
}

func (s *Session) Outcome() Outcome {
	return s.outcome
}

func (s *Session) Err() error {
	return s.err
}

// Result is the final state of a session.
type Result struct {
	Path     string
	FileName string
	Peer     string
	Bytes    int64
	Outcome  Outcome
	Err      error
}

func (s *Session) Result() Result {
	return Result{
		Path:     s.Path,
		FileName: s.FileName,
		Peer:     s.Peer,
		Bytes:    s.Bytes(),
		Outcome:  s.outcome,
		Err:      s.err,
	}
}

type countingReader struct {
	r        io.Reader
	session  *Session
	progress func(name string, n int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.session.bytes.Add(int64(n))
		if c.progress != nil {
			c.progress(c.session.FileName, int64(n))
		}
	}
	return n, err
}

type countingWriter struct {
	w       io.Writer
	session *Session
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.session.bytes.Add(int64(n))
	return n, err
}
