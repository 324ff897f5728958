package transfer

import (
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-drop/internal/consent"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

// Error kinds. A *TransferError matches exactly one of these with errors.Is.
var (
	ErrConnection     = errors.New("connection error")
	ErrDecode         = protocol.ErrDecode
	ErrIO             = errors.New("i/o error")
	ErrConsentTimeout = consent.ErrTimeout

	ErrNotConfigured  = errors.New("sender has no destination")
	ErrTextTooLarge   = errors.New("text exceeds size limit")
	ErrInvalidName    = errors.New("invalid file name")
	ErrUnknownMessage = errors.New("unknown message type")
)

// TransferError describes a failed transfer of one file.
type TransferError struct {
	Path string
	Peer string
	Op   string
	Kind error
	Err  error
}

func (e *TransferError) Error() string {
	target := e.Path
	if target == "" {
		target = "text"
	}
	if e.Peer != "" {
		return fmt.Sprintf("transfer %s to %s: %s: %v", target, e.Peer, e.Op, e.Err)
	}
	return fmt.Sprintf("transfer %s: %s: %v", target, e.Op, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
