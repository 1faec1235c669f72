// Package protocol layers the typed MySQL protocol messages — handshake,
// OK/ERR/EOF envelopes, column definitions, text rows, capability
// negotiation, and the native-password scramble — over raw wire.Packet
// payloads.
package protocol

import "fmt"

// Capabilities is the 32-bit capability flag set negotiated once per
// connection at handshake time.
type Capabilities uint32

// Named capability bits, per the MySQL Client/Server protocol.
const (
	CapLongPassword               Capabilities = 1 << 0
	CapFoundRows                  Capabilities = 1 << 1
	CapLongFlag                   Capabilities = 1 << 2
	CapConnectWithDB              Capabilities = 1 << 3
	CapNoSchema                   Capabilities = 1 << 4
	CapCompress                   Capabilities = 1 << 5
	CapODBC                       Capabilities = 1 << 6
	CapLocalFiles                 Capabilities = 1 << 7
	CapIgnoreSpace                Capabilities = 1 << 8
	CapProtocol41                 Capabilities = 1 << 9
	CapInteractive                Capabilities = 1 << 10
	CapSSL                        Capabilities = 1 << 11
	CapIgnoreSigpipe              Capabilities = 1 << 12
	CapTransactions               Capabilities = 1 << 13
	CapReserved                   Capabilities = 1 << 14
	CapSecureConnection           Capabilities = 1 << 15
	CapMultiStatements            Capabilities = 1 << 16
	CapMultiResults               Capabilities = 1 << 17
	CapPSMultiResults             Capabilities = 1 << 18
	CapPluginAuth                 Capabilities = 1 << 19
	CapConnectAttrs               Capabilities = 1 << 20
	CapPluginAuthLenencClientData Capabilities = 1 << 21
	CapCanHandleExpiredPasswords  Capabilities = 1 << 22
	CapSessionTrack               Capabilities = 1 << 23
	CapDeprecateEOF               Capabilities = 1 << 24
)

// Required is the minimal capability subset the handshake must see
// advertised by the server, or the handshake fails outright (spec §3).
// SECURE_CONNECTION occupies the historical RESERVED2 bit position; modern
// servers always advertise it, so it doubles as that bit's requirement.
const Required = CapProtocol41 | CapPluginAuth | CapSecureConnection

// Has reports whether c has every bit of want set.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// ErrMissingRequiredCapability is returned by Negotiate when the server does
// not advertise the full Required subset.
type ErrMissingRequiredCapability struct {
	Server   Capabilities
	Required Capabilities
}

func (e *ErrMissingRequiredCapability) Error() string {
	missing := e.Required &^ e.Server
	return fmt.Sprintf("protocol: server is missing required capabilities: 0x%08x", uint32(missing))
}

// Negotiate resolves the capability set for a connection: the bitwise-AND
// of what the server advertises and what the client desires, always
// including the Required subset in what's desired (it's meaningless for a
// client to "not want" a capability the handshake cannot proceed without).
// If the server doesn't advertise all of Required, the handshake must fail.
func Negotiate(server, desired Capabilities) (Capabilities, error) {
	if !server.Has(Required) {
		return 0, &ErrMissingRequiredCapability{Server: server, Required: Required}
	}
	return server & (desired | Required), nil
}
