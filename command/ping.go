package command

import "github.com/dbbouncer/mysqlcore/protocol"

// PingCommand issues COM_PING, a liveness probe that expects exactly one
// OKPacket in response and never touches the current database or
// transaction state.
type PingCommand struct {
	caps protocol.Capabilities

	status protocol.ServerStatus
	err    *protocol.ErrPacket
}

// NewPingCommand constructs a PingCommand for the given negotiated
// capability set.
func NewPingCommand(caps protocol.Capabilities) *PingCommand {
	return &PingCommand{caps: caps}
}

// RequestPayload implements Command.
func (c *PingCommand) RequestPayload() []byte {
	return []byte{comPing}
}

// Accept implements Command.
func (c *PingCommand) Accept(payload []byte) (bool, error) {
	switch protocol.ClassifyPacket(payload) {
	case protocol.KindOK:
		ok, err := protocol.DecodeOKPacket(payload, c.caps)
		if err != nil {
			return false, err
		}
		c.status = ok.Status
		return true, nil
	case protocol.KindErr:
		ep, err := protocol.DecodeErrPacket(payload, c.caps)
		if err != nil {
			return false, err
		}
		c.err = &ep
		return true, nil
	default:
		return false, &ErrUnexpectedPacket{Command: "PingCommand", Detail: "expected OK or Error"}
	}
}

// Status implements Command.
func (c *PingCommand) Status() protocol.ServerStatus { return c.status }

// Err reports the server error, if the ping itself was rejected (rare —
// a healthy server never errors a ping, but a dropped default-database or
// an account lockout can).
func (c *PingCommand) Err() *protocol.ErrPacket { return c.err }
