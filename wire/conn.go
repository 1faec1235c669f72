package wire

import (
	"fmt"
	"io"
)

// Reader reads framed packets off an underlying byte stream, accumulating
// byte-level instrumentation as it goes.
type Reader struct {
	r     io.Reader
	stats *IOStats
}

// NewReader wraps r. stats may be nil to skip instrumentation.
func NewReader(r io.Reader, stats *IOStats) *Reader {
	return &Reader{r: r, stats: stats}
}

// ReadPacket reads one full packet: a 4-byte header (3-byte little-endian
// payload length + 1-byte sequence id) followed by exactly that many
// payload bytes. Any short read — mid-header or mid-payload — is reported
// as ErrClosed; a partial packet is never returned.
func (r *Reader) ReadPacket() (Packet, error) {
	var header [4]byte
	n, err := io.ReadFull(r.r, header[:])
	if r.stats != nil && n > 0 {
		r.stats.recordRead(n)
	}
	if err != nil {
		return Packet{}, fmt.Errorf("wire: reading packet header: %w", ErrClosed)
	}

	payloadLen := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	seq := header[3]

	if payloadLen == 0 {
		return Packet{Sequence: seq, Payload: []byte{}}, nil
	}

	payload := make([]byte, payloadLen)
	n, err = io.ReadFull(r.r, payload)
	if r.stats != nil && n > 0 {
		r.stats.recordRead(n)
	}
	if err != nil {
		return Packet{}, fmt.Errorf("wire: reading packet payload: %w", ErrClosed)
	}

	return Packet{Sequence: seq, Payload: payload}, nil
}

// Writer frames and writes packets to an underlying byte stream.
type Writer struct {
	w     io.Writer
	stats *IOStats
}

// NewWriter wraps w. stats may be nil to skip instrumentation.
func NewWriter(w io.Writer, stats *IOStats) *Writer {
	return &Writer{w: w, stats: stats}
}

// WritePacket frames and writes pkt. Payloads over MaxPayloadLen are
// rejected rather than split or truncated (spec §4.A first-milestone
// limitation).
func (w *Writer) WritePacket(pkt Packet) error {
	if len(pkt.Payload) > MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(pkt.Payload))
	}

	buf := make([]byte, 4+len(pkt.Payload))
	l := len(pkt.Payload)
	buf[0] = byte(l)
	buf[1] = byte(l >> 8)
	buf[2] = byte(l >> 16)
	buf[3] = pkt.Sequence
	copy(buf[4:], pkt.Payload)

	n, err := w.w.Write(buf)
	if w.stats != nil && n > 0 {
		w.stats.recordWrite(n)
	}
	if err != nil {
		return fmt.Errorf("wire: writing packet: %w", err)
	}
	return nil
}
