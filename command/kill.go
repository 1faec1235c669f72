package command

import (
	"fmt"

	"github.com/dbbouncer/mysqlcore/protocol"
)

// KillCommand sends `KILL <connId>` as a COM_QUERY text command over a
// sibling channel, severing another connection's in-flight work. Its
// completion is unrelated to the state of the channel it targets — the
// channel carrying this command stays healthy regardless of whether the
// kill succeeds.
type KillCommand struct {
	caps   protocol.Capabilities
	connID uint32

	status protocol.ServerStatus
	err    *protocol.ErrPacket
}

// NewKillCommand constructs a KillCommand that will terminate connID.
func NewKillCommand(caps protocol.Capabilities, connID uint32) *KillCommand {
	return &KillCommand{caps: caps, connID: connID}
}

// RequestPayload implements Command.
func (c *KillCommand) RequestPayload() []byte {
	sql := fmt.Sprintf("KILL %d", c.connID)
	b := make([]byte, 0, 1+len(sql))
	b = append(b, comQuery)
	b = append(b, sql...)
	return b
}

// Accept implements Command.
func (c *KillCommand) Accept(payload []byte) (bool, error) {
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
		return false, &ErrUnexpectedPacket{Command: "KillCommand", Detail: "expected OK or Error"}
	}
}

// Status implements Command.
func (c *KillCommand) Status() protocol.ServerStatus { return c.status }

// Err reports the server error, if the target connection id no longer
// existed or the account lacked CONNECTION_ADMIN/PROCESS privilege.
func (c *KillCommand) Err() *protocol.ErrPacket { return c.err }
