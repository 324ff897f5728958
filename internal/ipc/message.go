// Package ipc lets a local process watch a running receiver and answer its
// consent requests over a unix socket. Frames are protobuf Structs behind a
// 4-byte big-endian length.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/events"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxFrameSize bounds a single frame; text events carry clipboard content.
const MaxFrameSize = 32 << 20

const (
	TypeEvent           = "event"
	TypeConsentRequest  = "consent-request"
	TypeConsentResponse = "consent-response"
	TypeConsentResult   = "consent-result"
)

var ErrFrameTooLarge = errors.New("ipc frame too large")

type Message struct {
	Type   string
	Fields map[string]any
}

func (m Message) Text(key string) string {
	s, _ := m.Fields[key].(string)
	return s
}

func (m Message) Number(key string) float64 {
	n, _ := m.Fields[key].(float64)
	return n
}

func WriteMessage(w io.Writer, msg Message) error {
	fields := make(map[string]any, len(msg.Fields)+1)
	for k, v := range msg.Fields {
		fields[k] = v
	}
	fields["type"] = msg.Type

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func ReadMessage(r io.Reader) (Message, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Message{}, err
	}
	if length > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, err
	}

	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return Message{}, fmt.Errorf("decode ipc frame: %w", err)
	}

	fields := st.AsMap()
	typ, _ := fields["type"].(string)
	delete(fields, "type")
	return Message{Type: typ, Fields: fields}, nil
}

func EventMessage(e events.Event) Message {
	fields := map[string]any{
		"kind":    string(e.Kind),
		"file":    e.FileName,
		"peer":    e.Peer,
		"sender":  e.Sender,
		"path":    e.Path,
		"bytes":   e.Bytes,
		"content": e.Content,
		"time":    e.Time.Format(time.RFC3339Nano),
	}
	if e.Err != nil {
		fields["error"] = e.Err.Error()
	}
	return Message{Type: TypeEvent, Fields: fields}
}

// EventFromMessage rebuilds an event; Err only keeps the message text.
func EventFromMessage(m Message) events.Event {
	e := events.Event{
		Kind:     events.Kind(m.Text("kind")),
		FileName: m.Text("file"),
		Peer:     m.Text("peer"),
		Sender:   m.Text("sender"),
		Path:     m.Text("path"),
		Bytes:    int64(m.Number("bytes")),
		Content:  m.Text("content"),
	}
	if msg := m.Text("error"); msg != "" {
		e.Err = errors.New(msg)
	}
	if t, err := time.Parse(time.RFC3339Nano, m.Text("time")); err == nil {
		e.Time = t
	}
	return e
}

func RequestMessage(req consent.Request) Message {
	return Message{Type: TypeConsentRequest, Fields: map[string]any{
		"id":      req.ID,
		"index":   float64(req.Index),
		"kind":    string(req.Kind),
		"file":    req.FileName,
		"sender":  req.SenderName,
		"peer":    req.PeerAddr,
		"created": req.CreatedAt.Format(time.RFC3339Nano),
	}}
}

func RequestFromMessage(m Message) consent.Request {
	req := consent.Request{
		ID:         m.Text("id"),
		Index:      uint64(m.Number("index")),
		Kind:       consent.Kind(m.Text("kind")),
		FileName:   m.Text("file"),
		SenderName: m.Text("sender"),
		PeerAddr:   m.Text("peer"),
	}
	if t, err := time.Parse(time.RFC3339Nano, m.Text("created")); err == nil {
		req.CreatedAt = t
	}
	return req
}

func responseMessage(id string, decision protocol.Decision) Message {
	return Message{Type: TypeConsentResponse, Fields: map[string]any{
		"id":       id,
		"decision": decision.String(),
	}}
}

func resultMessage(id string, err error) Message {
	fields := map[string]any{"id": id}
	if err != nil {
		fields["error"] = err.Error()
	}
	return Message{Type: TypeConsentResult, Fields: fields}
}
