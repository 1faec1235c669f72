package command

import "github.com/dbbouncer/mysqlcore/protocol"

// InitDatabaseCommand issues COM_INIT_DB (the wire form of USE <db>),
// switching the channel's default database. Response is a single
// OK or Error packet.
type InitDatabaseCommand struct {
	caps     protocol.Capabilities
	database string

	status protocol.ServerStatus
	err    *protocol.ErrPacket
}

// NewInitDatabaseCommand constructs an InitDatabaseCommand targeting db.
func NewInitDatabaseCommand(caps protocol.Capabilities, db string) *InitDatabaseCommand {
	return &InitDatabaseCommand{caps: caps, database: db}
}

// RequestPayload implements Command.
func (c *InitDatabaseCommand) RequestPayload() []byte {
	b := make([]byte, 0, 1+len(c.database))
	b = append(b, comInitDB)
	b = append(b, c.database...)
	return b
}

// Accept implements Command.
func (c *InitDatabaseCommand) Accept(payload []byte) (bool, error) {
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
		return false, &ErrUnexpectedPacket{Command: "InitDatabaseCommand", Detail: "expected OK or Error"}
	}
}

// Status implements Command.
func (c *InitDatabaseCommand) Status() protocol.ServerStatus { return c.status }

// Err reports the server error, if the database switch was rejected.
func (c *InitDatabaseCommand) Err() *protocol.ErrPacket { return c.err }
