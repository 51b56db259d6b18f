package wire

import (
	"encoding/binary"
	"fmt"

	"adbhost/adberrors"
)

// Framer encodes and decodes ADB messages. It holds no state; the type
// exists so the encode/decode operations read as a cohesive unit.
type Framer struct{}

// NewFramer returns a ready-to-use Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Encode produces a full header+payload byte slice for cmd/arg0/arg1/payload.
func (Framer) Encode(cmd Command, arg0, arg1 uint32, payload []byte) []byte {
	buf := make([]byte, HeaderLength+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cmd))
	binary.LittleEndian.PutUint32(buf[4:8], arg0)
	binary.LittleEndian.PutUint32(buf[8:12], arg1)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[16:20], Checksum(payload))
	binary.LittleEndian.PutUint32(buf[20:24], magicOf(cmd))
	copy(buf[HeaderLength:], payload)
	return buf
}

// DecodeHeader parses exactly HeaderLength bytes into a Header and checks
// the magic invariant.
func (Framer) DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLength {
		return Header{}, fmt.Errorf("adb: header must be %d bytes, got %d", HeaderLength, len(b))
	}
	h := Header{
		Command:    Command(binary.LittleEndian.Uint32(b[0:4])),
		Arg0:       binary.LittleEndian.Uint32(b[4:8]),
		Arg1:       binary.LittleEndian.Uint32(b[8:12]),
		DataLength: binary.LittleEndian.Uint32(b[12:16]),
		DataCheck:  binary.LittleEndian.Uint32(b[16:20]),
		Magic:      binary.LittleEndian.Uint32(b[20:24]),
	}
	if h.Magic != magicOf(h.Command) {
		return Header{}, fmt.Errorf("%w: %w: command %s magic %#08x", adberrors.ErrProtocol, adberrors.ErrBadMagic, h.Command, h.Magic)
	}
	if h.DataLength > MaxData {
		return Header{}, fmt.Errorf("%w: declared length %d", adberrors.ErrPayloadTooLarge, h.DataLength)
	}
	return h, nil
}

// DecodePayload pairs a previously-decoded Header with its payload bytes,
// verifying the checksum invariant.
func (Framer) DecodePayload(h Header, payload []byte) (Message, error) {
	if uint32(len(payload)) != h.DataLength {
		return Message{}, fmt.Errorf("adb: expected %d payload bytes, got %d", h.DataLength, len(payload))
	}
	if Checksum(payload) != h.DataCheck {
		return Message{}, fmt.Errorf("%w: %w: command %s", adberrors.ErrProtocol, adberrors.ErrBadChecksum, h.Command)
	}
	return Message{
		Command: h.Command,
		Arg0:    h.Arg0,
		Arg1:    h.Arg1,
		Payload: payload,
	}, nil
}

// NullTerminated appends a trailing NUL, the convention ADB service
// strings use on the wire (shell:<cmd>\0, sync:\0, ...).
func NullTerminated(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}
