package command

import "github.com/dbbouncer/mysqlcore/protocol"

// QuitCommand sends COM_QUIT and expects no response: the server closes
// the socket on its end without acknowledgement. The channel that submits
// it should write the request and tear itself down rather than wait on
// Accept, but QuitCommand still satisfies Command so it can flow through
// the same submit path as every other command.
type QuitCommand struct{}

// NewQuitCommand constructs a QuitCommand.
func NewQuitCommand() *QuitCommand { return &QuitCommand{} }

// RequestPayload implements Command.
func (c *QuitCommand) RequestPayload() []byte {
	return []byte{comQuit}
}

// Accept implements Command. It is never expected to be invoked in
// practice — the server sends nothing back — so any call reports terminal
// completion immediately rather than blocking a caller on a response that
// will never arrive.
func (c *QuitCommand) Accept(payload []byte) (bool, error) {
	return true, nil
}

// Status implements Command. COM_QUIT carries no status snapshot.
func (c *QuitCommand) Status() protocol.ServerStatus { return 0 }
