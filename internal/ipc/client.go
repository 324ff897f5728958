package ipc

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

const dialTimeout = 3 * time.Second

type Client struct {
	conn net.Conn
	mu   sync.Mutex
}

func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to receiver at %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Receive blocks for the next message from the server.
func (c *Client) Receive() (Message, error) {
	return ReadMessage(c.conn)
}

// Respond sends a decision for request id. The server answers with a
// consent-result message carrying the outcome.
func (c *Client) Respond(id string, decision protocol.Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteMessage(c.conn, responseMessage(id, decision))
}

// AwaitResult reads until the consent-result for id arrives and returns the
// error it reports.
func (c *Client) AwaitResult(id string) error {
	for {
		msg, err := c.Receive()
		if err != nil {
			return err
		}
		if msg.Type != TypeConsentResult || msg.Text("id") != id {
			continue
		}
		if reason := msg.Text("error"); reason != "" {
			return fmt.Errorf("receiver refused response: %s", reason)
		}
		return nil
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
