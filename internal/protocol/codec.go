package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	ErrDecode       = errors.New("malformed frame")
	ErrFieldTooLong = errors.New("field exceeds frame width")
	ErrInvalidField = errors.New("field contains padding byte")
)

// EncodeField right-pads s to FieldWidth bytes. Values that would not survive
// a round trip are rejected instead of being truncated.
func EncodeField(s string) ([]byte, error) {
	if len(s) > FieldWidth {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFieldTooLong, len(s), FieldWidth)
	}
	if strings.IndexByte(s, Padding) >= 0 {
		return nil, ErrInvalidField
	}

	buf := bytes.Repeat([]byte{Padding}, FieldWidth)
	copy(buf, s)
	return buf, nil
}

func DecodeField(buf []byte) (string, error) {
	if len(buf) != FieldWidth {
		return "", fmt.Errorf("%w: field is %d bytes, want %d", ErrDecode, len(buf), FieldWidth)
	}

	trimmed := bytes.TrimRight(buf, "\x00")
	if !utf8.Valid(trimmed) {
		return "", fmt.Errorf("%w: field is not valid UTF-8", ErrDecode)
	}
	return string(trimmed), nil
}

func WriteField(w io.Writer, s string) error {
	buf, err := EncodeField(s)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func ReadField(r io.Reader) (string, error) {
	buf := make([]byte, FieldWidth)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return DecodeField(buf)
}

func WriteMessageType(w io.Writer, t MessageType) error {
	return binary.Write(w, binary.BigEndian, int32(t))
}

// ReadMessageType returns whatever tag the peer sent; callers decide what to
// do with unknown values.
func ReadMessageType(r io.Reader) (MessageType, error) {
	var t int32
	if err := binary.Read(r, binary.BigEndian, &t); err != nil {
		return 0, err
	}
	return MessageType(t), nil
}

func WriteDecision(w io.Writer, d Decision) error {
	return binary.Write(w, binary.BigEndian, int32(d))
}

func ReadDecision(r io.Reader) (Decision, error) {
	var d int32
	if err := binary.Read(r, binary.BigEndian, &d); err != nil {
		return Deny, err
	}
	switch Decision(d) {
	case Allow, Deny:
		return Decision(d), nil
	default:
		return Deny, fmt.Errorf("%w: unexpected decision %d", ErrDecode, d)
	}
}
