package transfer

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxConns    = 64
	DefaultIdleTimeout = 30 * time.Second
	DefaultMaxTextSize = 16 << 20
)

// Authorizer decides whether an incoming request may proceed.
// *consent.Gate is the usual implementation.
type Authorizer interface {
	Request(ctx context.Context, req consent.Request) (protocol.Decision, error)
}

type SenderConfig struct {
	// SenderName is announced to the receiver. Defaults to the hostname.
	SenderName  string
	DialRetries int
	IdleTimeout time.Duration
	Notifier    events.Notifier
	Logger      *logrus.Logger
	// Progress is called from the transfer goroutine after every read from
	// the source file. It must be safe for concurrent use.
	Progress func(name string, n int64)
}

type ReceiverConfig struct {
	DownloadDir string
	Authorizer  Authorizer
	MaxConns    int
	IdleTimeout time.Duration
	MaxTextSize int64
	Notifier    events.Notifier
	Logger      *logrus.Logger
}
