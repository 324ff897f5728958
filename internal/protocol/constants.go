package protocol

import (
	"fmt"
	"strings"
)

const (
	// FieldWidth is the size of every padded metadata field on the wire.
	FieldWidth = 255
	// Padding fills the unused tail of a field. It is never valid inside a name.
	Padding byte = 0x00
	// HeaderSize is the size of the message type and decision integers.
	HeaderSize = 4
)

type MessageType int32

const (
	MsgFile MessageType = 1
	MsgText MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MsgFile:
		return "FILE"
	case MsgText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

func (t MessageType) Valid() bool {
	return t == MsgFile || t == MsgText
}

// Decision is the receiver's answer to a transfer request.
type Decision int32

const (
	Deny  Decision = 0
	Allow Decision = 1
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "ALLOW"
	case Deny:
		return "DENY"
	default:
		return "UNKNOWN"
	}
}

func (d Decision) Allowed() bool {
	return d == Allow
}

// ParseDecision accepts the spellings used by the prompt and the IPC clients.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "allow", "accept":
		return Allow, nil
	case "0", "n", "no", "deny", "reject":
		return Deny, nil
	default:
		return Deny, fmt.Errorf("unknown decision %q", s)
	}
}
