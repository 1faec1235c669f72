// Package wire implements the MySQL client/server packet framing layer:
// length-prefixed packets with a rolling per-exchange sequence number, and
// the little-endian primitive wire types layered on top of a payload.
package wire

import (
	"errors"
	"fmt"
)

// MaxPayloadLen is the largest payload a single packet may carry (2^24 - 1).
// Larger payloads must be split across continuation packets; this codec
// rejects oversize payloads explicitly instead of truncating them.
const MaxPayloadLen = 1<<24 - 1

var (
	// ErrClosed is returned when the peer closes the connection mid-header
	// or mid-payload. The reader never returns a partial packet.
	ErrClosed = errors.New("wire: connection closed")
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadLen.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum packet size")
	// ErrSequenceMismatch is returned when a peer's sequence id does not
	// follow the expected mod-256 wraparound for the current exchange.
	ErrSequenceMismatch = errors.New("wire: packet sequence id out of order")
)

// Packet is a single framed unit: a sequence identifier and an immutable
// payload. The sequence identifier wraps at 256 within one command exchange.
type Packet struct {
	Sequence byte
	Payload  []byte
}

// Reader returns a read cursor over the packet's payload.
func (p Packet) Reader() *PacketReader {
	return &PacketReader{buf: p.Payload}
}

// FirstByte returns the lead byte of the payload, or 0 if empty. Lead-byte
// classification (protocol.ClassifyPacket) depends on this being the byte
// actually present, not a synthesized default, so callers should always
// check len(Payload) separately when that distinction matters.
func (p Packet) FirstByte() byte {
	if len(p.Payload) == 0 {
		return 0
	}
	return p.Payload[0]
}

// NextSequence returns the sequence id a peer must use for the next packet
// in the same exchange, wrapping at 256.
func NextSequence(seq byte) byte {
	return seq + 1
}

// CheckSequence validates that got follows want under mod-256 wraparound.
func CheckSequence(want, got byte) error {
	if want != got {
		return fmt.Errorf("%w: want %d, got %d", ErrSequenceMismatch, want, got)
	}
	return nil
}

// NewPacket builds a Packet from raw bytes generated by a PacketBuilder.
func NewPacket(seq byte, payload []byte) Packet {
	return Packet{Sequence: seq, Payload: payload}
}
