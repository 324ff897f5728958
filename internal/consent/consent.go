// Package consent turns an incoming transfer request into an allow or deny
// decision made by a human on some external surface.
package consent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds how long a connection waits for a human decision.
const DefaultTimeout = 2 * time.Minute

var (
	ErrTimeout        = errors.New("consent request timed out")
	ErrUnknownRequest = errors.New("no pending consent request with that id")
)

type Kind string

const (
	KindFile Kind = "file"
	KindText Kind = "text"
)

// TextDescription is the file name shown for clipboard text requests.
const TextDescription = "clip txt"

type Request struct {
	ID         string
	Index      uint64
	Kind       Kind
	FileName   string
	SenderName string
	PeerAddr   string
	CreatedAt  time.Time
}

// Responder accepts exactly one decision per request id.
type Responder interface {
	Respond(id string, decision protocol.Decision) error
}

// Surface shows a request to a human and eventually answers it through r.
// Publish must not block until the decision is made.
type Surface interface {
	Publish(req Request, r Responder)
}

type SurfaceFunc func(req Request, r Responder)

func (f SurfaceFunc) Publish(req Request, r Responder) { f(req, r) }

type Config struct {
	Surface Surface
	// Timeout of zero waits forever.
	Timeout time.Duration
	Logger  *logrus.Logger
}

type pending struct {
	req      Request
	decision chan protocol.Decision
}

type Gate struct {
	surface Surface
	timeout time.Duration
	logger  *logrus.Logger

	mu      sync.Mutex
	pending map[string]*pending
}

func NewGate(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Gate{
		surface: cfg.Surface,
		timeout: cfg.Timeout,
		logger:  logger,
		pending: make(map[string]*pending),
	}
}

// Request publishes req and blocks until a decision arrives, the timeout
// expires or ctx is done. Every non-nil error comes with protocol.Deny.
func (g *Gate) Request(ctx context.Context, req Request) (protocol.Decision, error) {
	if g.surface == nil {
		return protocol.Deny, errors.New("consent gate has no surface")
	}

	req.ID = uuid.New().String()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	p := &pending{req: req, decision: make(chan protocol.Decision, 1)}
	g.mu.Lock()
	g.pending[req.ID] = p
	g.mu.Unlock()
	defer g.forget(req.ID)

	log := g.logger.WithFields(logrus.Fields{
		"request": req.ID,
		"index":   req.Index,
		"file":    req.FileName,
		"sender":  req.SenderName,
	})
	log.Debug("Waiting for consent")

	g.surface.Publish(req, g)

	var expired <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case d := <-p.decision:
		log.WithField("decision", d.String()).Debug("Consent decided")
		return d, nil
	case <-expired:
		if !g.forget(req.ID) {
			return <-p.decision, nil
		}
		log.Warn("Consent request timed out, denying")
		return protocol.Deny, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
	case <-ctx.Done():
		if !g.forget(req.ID) {
			return <-p.decision, nil
		}
		return protocol.Deny, ctx.Err()
	}
}

// Respond delivers decision to the request waiting on id. A second response
// for the same id, or one arriving after the wait ended, gets ErrUnknownRequest.
func (g *Gate) Respond(id string, decision protocol.Decision) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	p.decision <- decision
	return nil
}

// Pending lists requests still waiting for a decision, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	reqs := make([]Request, 0, len(g.pending))
	for _, p := range g.pending {
		reqs = append(reqs, p.req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Index < reqs[j].Index })
	return reqs
}

// forget reports whether id was still pending. False means a response was
// already accepted and sits in the decision channel.
func (g *Gate) forget(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	delete(g.pending, id)
	return ok
}
