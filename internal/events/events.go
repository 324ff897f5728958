// Package events carries transfer progress notifications to whatever surface
// is watching: the terminal, an IPC client, or a test recorder.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Kind string

const (
	TransferStarted   Kind = "transfer-started"
	TransferCompleted Kind = "transfer-completed"
	TransferRejected  Kind = "transfer-rejected"
	TransferFailed    Kind = "transfer-failed"
	ReceiveStarted    Kind = "receive-started"
	ReceiveCompleted  Kind = "receive-completed"
	ReceiveFailed     Kind = "receive-failed"
	TextReceived      Kind = "text-received"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	FileName string
	Peer     string
	Sender   string
	Path     string
	Bytes    int64
	Content  string
	Err      error
	Time     time.Time
}

// Notifier receives events. Implementations must not block the caller for long.
type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

type multi []Notifier

func (m multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Multi fans an event out to every non-nil notifier.
func Multi(notifiers ...Notifier) Notifier {
	m := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

// Stamp fills in Time when the emitter left it empty.
func Stamp(e Event) Event {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	return e
}

type logNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &logNotifier{logger: logger}
}

func (l *logNotifier) Notify(e Event) {
	fields := logrus.Fields{"event": string(e.Kind)}
	if e.FileName != "" {
		fields["file"] = e.FileName
	}
	if e.Peer != "" {
		fields["peer"] = e.Peer
	}
	if e.Sender != "" {
		fields["sender"] = e.Sender
	}
	if e.Path != "" {
		fields["path"] = e.Path
	}
	if e.Bytes > 0 {
		fields["bytes"] = e.Bytes
	}

	entry := l.logger.WithFields(fields)
	switch e.Kind {
	case TransferFailed, ReceiveFailed:
		entry.WithError(e.Err).Warn("Transfer failed")
	case TransferRejected:
		entry.Info("Transfer rejected by receiver")
	case TextReceived:
		entry.Infof("Text received: %s", e.Content)
	default:
		entry.Info("Transfer event")
	}
}

// Recorder keeps every event it sees. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns recorded events of kind k in arrival order.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
