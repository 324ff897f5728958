package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

// expiryCheck is how often an open prompt checks that its request is still
// waiting for an answer.
const expiryCheck = 200 * time.Millisecond

type prompt struct {
	req consent.Request
	r   consent.Responder
}

type pendingLister interface {
	Pending() []consent.Request
}

// promptSurface asks on a terminal, one request at a time.
type promptSurface struct {
	out   io.Writer
	queue chan prompt

	lines   chan string
	readErr error
}

func newPromptSurface(in io.Reader, out io.Writer) *promptSurface {
	p := &promptSurface{
		out:   out,
		queue: make(chan prompt, 64),
		lines: make(chan string),
	}
	go p.read(in)
	go p.loop()
	return p
}

func (p *promptSurface) Publish(req consent.Request, r consent.Responder) {
	select {
	case p.queue <- prompt{req: req, r: r}:
	default:
		go func() { p.queue <- prompt{req: req, r: r} }()
	}
}

// read feeds input lines to the prompt; readErr is set before lines closes.
func (p *promptSurface) read(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
	p.readErr = scanner.Err()
	if p.readErr == nil {
		p.readErr = io.EOF
	}
	close(p.lines)
}

func (p *promptSurface) loop() {
	for pr := range p.queue {
		if !stillPending(pr) {
			continue
		}

		decision, answered, err := p.ask(pr)
		if !answered {
			fmt.Fprintln(p.out, "\nrequest expired")
			continue
		}
		if err != nil {
			fmt.Fprintf(p.out, "cannot read answer (%v), denying\n", err)
		}
		if err := pr.r.Respond(pr.req.ID, decision); errors.Is(err, consent.ErrUnknownRequest) {
			fmt.Fprintln(p.out, "request already expired")
		}
	}
}

// ask blocks for an answer. answered is false when the request stopped
// waiting before the user replied.
func (p *promptSurface) ask(pr prompt) (decision protocol.Decision, answered bool, err error) {
	ticker := time.NewTicker(expiryCheck)
	defer ticker.Stop()

	p.show(pr.req)
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return protocol.Deny, true, p.readErr
			}
			if d, err := protocol.ParseDecision(line); err == nil {
				return d, true, nil
			}
			fmt.Fprintln(p.out, "please answer y or n")
			p.show(pr.req)
		case <-ticker.C:
			if !stillPending(pr) {
				return protocol.Deny, false, nil
			}
		}
	}
}

func (p *promptSurface) show(req consent.Request) {
	if req.Kind == consent.KindText {
		fmt.Fprintf(p.out, "Accept clipboard text from %s? [y/n] ", req.PeerAddr)
		return
	}
	fmt.Fprintf(p.out, "Accept %q from %s (%s)? [y/n] ", req.FileName, req.SenderName, req.PeerAddr)
}

// stillPending reports whether pr's responder still waits on it. Responders
// that cannot tell are assumed to wait.
func stillPending(pr prompt) bool {
	lister, ok := pr.r.(pendingLister)
	if !ok {
		return true
	}
	for _, req := range lister.Pending() {
		if req.ID == pr.req.ID {
			return true
		}
	}
	return false
}
