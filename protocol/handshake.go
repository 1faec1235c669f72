package protocol

import (
	"fmt"

	"github.com/dbbouncer/mysqlcore/wire"
)

// HandshakeV10 is the server's initial greeting.
type HandshakeV10 struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	AuthSeed        []byte // 20 bytes, assembled from the two seed regions
	Capabilities    Capabilities
	Charset         byte
	Status          ServerStatus
	AuthPluginName  string
}

// DecodeHandshakeV10 parses the server greeting packet payload.
func DecodeHandshakeV10(payload []byte) (HandshakeV10, error) {
	r := wire.NewPacketReader(payload)

	ver, err := r.FixedInt(1)
	if err != nil {
		return HandshakeV10{}, err
	}
	if ver != 10 {
		return HandshakeV10{}, fmt.Errorf("protocol: unsupported handshake protocol version %d", ver)
	}

	serverVersion, err := r.NullTerminatedString()
	if err != nil {
		return HandshakeV10{}, fmt.Errorf("protocol: handshake server version: %w", err)
	}

	connID, err := r.FixedInt(4)
	if err != nil {
		return HandshakeV10{}, fmt.Errorf("protocol: handshake connection id: %w", err)
	}

	seedPart1, err := r.FixedString(8)
	if err != nil {
		return HandshakeV10{}, fmt.Errorf("protocol: handshake auth-seed part 1: %w", err)
	}
	if _, err := r.FixedInt(1); err != nil { // filler
		return HandshakeV10{}, err
	}

	capLower, err := r.FixedInt(2)
	if err != nil {
		return HandshakeV10{}, fmt.Errorf("protocol: handshake capability flags (lower): %w", err)
	}

	charset, err := r.FixedInt(1)
	if err != nil {
		return HandshakeV10{}, err
	}
	status, err := r.FixedInt(2)
	if err != nil {
		return HandshakeV10{}, err
	}
	capUpper, err := r.FixedInt(2)
	if err != nil {
		return HandshakeV10{}, fmt.Errorf("protocol: handshake capability flags (upper): %w", err)
	}

	caps := Capabilities(capLower) | Capabilities(capUpper)<<16

	authSeedLen, err := r.FixedInt(1)
	if err != nil {
		return HandshakeV10{}, err
	}
	if _, err := r.FixedString(10); err != nil { // reserved
		return HandshakeV10{}, err
	}

	var seedPart2 string
	if caps.Has(CapSecureConnection) {
		n := int(authSeedLen) - 8
		if n < 0 {
			n = 13
		}
		// The trailing byte of the seed region is a NUL terminator, not seed
		// data; read one fewer to exclude it, then skip the terminator.
		if n > 0 {
			seedPart2, err = r.FixedString(n - 1)
			if err != nil {
				return HandshakeV10{}, fmt.Errorf("protocol: handshake auth-seed part 2: %w", err)
			}
			if _, err := r.FixedInt(1); err != nil { // terminator
				return HandshakeV10{}, err
			}
		}
	}

	var authPlugin string
	if caps.Has(CapPluginAuth) {
		authPlugin, err = r.NullTerminatedString()
		if err != nil {
			// Some servers omit the trailing NUL on the plugin name; fall
			// back to whatever remains rather than failing the handshake.
			authPlugin = r.RestOfPacketString()
		}
	}

	return HandshakeV10{
		ProtocolVersion: byte(ver),
		ServerVersion:   serverVersion,
		ConnectionID:    uint32(connID),
		AuthSeed:        append([]byte(seedPart1), []byte(seedPart2)...),
		Capabilities:    caps,
		Charset:         byte(charset),
		Status:          ServerStatus(status),
		AuthPluginName:  authPlugin,
	}, nil
}

// HandshakeResponse41 is the client's reply to a HandshakeV10 greeting.
type HandshakeResponse41 struct {
	Capabilities   Capabilities
	MaxPacketSize  uint32
	Charset        byte
	Username       string
	AuthResponse   []byte
	Database       string
	AuthPluginName string
	ConnectAttrs   map[string]string
}

// Encode builds the on-wire payload for a HandshakeResponse41.
func (h HandshakeResponse41) Encode() []byte {
	b := wire.NewPacketBuilder(128)
	b.PutUint32(uint32(h.Capabilities))
	b.PutUint32(h.MaxPacketSize)
	b.PutByte(h.Charset)
	b.PutBytes(make([]byte, 23)) // reserved

	b.PutNullTerminatedString(h.Username)

	if h.Capabilities.Has(CapPluginAuthLenencClientData) {
		b.PutLengthEncodedString(string(h.AuthResponse))
	} else if h.Capabilities.Has(CapSecureConnection) {
		b.PutByte(byte(len(h.AuthResponse)))
		b.PutBytes(h.AuthResponse)
	} else {
		b.PutNullTerminatedString(string(h.AuthResponse))
	}

	if h.Capabilities.Has(CapConnectWithDB) {
		b.PutNullTerminatedString(h.Database)
	}
	if h.Capabilities.Has(CapPluginAuth) {
		b.PutNullTerminatedString(h.AuthPluginName)
	}
	if h.Capabilities.Has(CapConnectAttrs) && len(h.ConnectAttrs) > 0 {
		attrs := wire.NewPacketBuilder(64)
		for k, v := range h.ConnectAttrs {
			attrs.PutLengthEncodedString(k)
			attrs.PutLengthEncodedString(v)
		}
		b.PutLengthEncodedInt(uint64(len(attrs.Bytes())))
		b.PutBytes(attrs.Bytes())
	}

	return b.Bytes()
}
