package command

import (
	"github.com/dbbouncer/mysqlcore/protocol"
	"github.com/dbbouncer/mysqlcore/wire"
)

type queryPhase int

const (
	phaseHeader queryPhase = iota
	phaseColumns
	phaseRows
	phaseDone
)

// QueryResult holds whichever shape a QueryCommand's response turned out
// to be: exactly one of OK or the Columns/Rows pair is populated.
type QueryResult struct {
	OK      *protocol.OKPacket
	Columns []protocol.ColumnDefinition41
	Rows    []protocol.TextRow
}

// QueryCommand issues COM_QUERY with the given SQL text and accumulates
// whichever response shape the server returns: an OKPacket for a
// non-SELECT statement, or a fully materialized text result-set for one
// that produces rows.
type QueryCommand struct {
	caps protocol.Capabilities
	sql  string

	phase       queryPhase
	numCols     uint64
	columns     []protocol.ColumnDefinition41
	rows        []protocol.TextRow
	status      protocol.ServerStatus
	result      QueryResult
	err         *protocol.ErrPacket
}

// NewQueryCommand constructs a QueryCommand for sql, already rendered in
// the channel's negotiated session charset.
func NewQueryCommand(caps protocol.Capabilities, sql string) *QueryCommand {
	return &QueryCommand{caps: caps, sql: sql}
}

// RequestPayload implements Command.
func (c *QueryCommand) RequestPayload() []byte {
	b := make([]byte, 0, 1+len(c.sql))
	b = append(b, comQuery)
	b = append(b, c.sql...)
	return b
}

// Accept implements Command, driving the result-discrimination state
// machine described by spec §4.C's QueryCommand specifics.
func (c *QueryCommand) Accept(payload []byte) (bool, error) {
	switch c.phase {
	case phaseHeader:
		return c.acceptHeader(payload)
	case phaseColumns:
		return c.acceptColumn(payload)
	case phaseRows:
		return c.acceptRow(payload)
	default:
		return false, &ErrUnexpectedPacket{Command: "QueryCommand", Detail: "packet arrived after completion"}
	}
}

func (c *QueryCommand) acceptHeader(payload []byte) (bool, error) {
	switch protocol.ClassifyPacket(payload) {
	case protocol.KindOK:
		ok, err := protocol.DecodeOKPacket(payload, c.caps)
		if err != nil {
			return false, err
		}
		c.status = ok.Status
		c.result.OK = &ok
		c.phase = phaseDone
		return true, nil
	case protocol.KindErr:
		ep, err := protocol.DecodeErrPacket(payload, c.caps)
		if err != nil {
			return false, err
		}
		c.err = &ep
		c.phase = phaseDone
		return true, ep
	case protocol.KindLocalInfile:
		c.phase = phaseDone
		return true, ErrLocalInfileUnsupported
	default:
		n, isNull, err := wire.NewPacketReader(payload).LengthEncodedInt()
		if err != nil {
			return false, err
		}
		if isNull {
			return false, &ErrUnexpectedPacket{Command: "QueryCommand", Detail: "NULL column count"}
		}
		c.numCols = n
		c.columns = make([]protocol.ColumnDefinition41, 0, n)
		c.phase = phaseColumns
		return false, nil
	}
}

func (c *QueryCommand) acceptColumn(payload []byte) (bool, error) {
	if uint64(len(c.columns)) < c.numCols {
		col, err := protocol.DecodeColumnDefinition41(payload)
		if err != nil {
			return false, err
		}
		c.columns = append(c.columns, col)
		if uint64(len(c.columns)) == c.numCols && c.caps.Has(protocol.CapDeprecateEOF) {
			// No terminating EOF when DEPRECATE_EOF is negotiated; rows
			// follow the last column definition directly.
			c.phase = phaseRows
		}
		return false, nil
	}

	if isLegacyEOF(payload) {
		eof, err := protocol.DecodeEOFPacket(payload)
		if err != nil {
			return false, err
		}
		c.status = eof.Status
		c.phase = phaseRows
		return false, nil
	}
	return false, &ErrUnexpectedPacket{Command: "QueryCommand", Detail: "expected column-definitions EOF"}
}

func (c *QueryCommand) acceptRow(payload []byte) (bool, error) {
	if len(payload) == 0 {
		return false, &ErrUnexpectedPacket{Command: "QueryCommand", Detail: "empty row packet"}
	}

	if payload[0] == 0xfe {
		if c.caps.Has(protocol.CapDeprecateEOF) {
			ok, err := protocol.DecodeOKPacket(payload, c.caps)
			if err != nil {
				return false, err
			}
			c.status = ok.Status
			c.finishRows()
			return true, nil
		}
		if isLegacyEOF(payload) {
			eof, err := protocol.DecodeEOFPacket(payload)
			if err != nil {
				return false, err
			}
			c.status = eof.Status
			c.finishRows()
			return true, nil
		}
	}

	if payload[0] == 0xff {
		ep, err := protocol.DecodeErrPacket(payload, c.caps)
		if err != nil {
			return false, err
		}
		c.err = &ep
		c.phase = phaseDone
		return true, ep
	}

	row, err := protocol.DecodeTextRow(payload, int(c.numCols))
	if err != nil {
		return false, err
	}
	c.rows = append(c.rows, row)
	return false, nil
}

func (c *QueryCommand) finishRows() {
	c.result.Columns = c.columns
	c.result.Rows = c.rows
	c.phase = phaseDone
}

func isLegacyEOF(payload []byte) bool {
	return len(payload) > 0 && payload[0] == 0xfe && len(payload) < 9
}

// Status implements Command.
func (c *QueryCommand) Status() protocol.ServerStatus { return c.status }

// Result returns the accumulated response. Valid once the command has
// reached terminal completion.
func (c *QueryCommand) Result() QueryResult { return c.result }

// SQL returns the statement text this command was constructed with, so a
// caller can classify it (e.g. by its leading keyword) without the
// command package needing to know about that classification itself.
func (c *QueryCommand) SQL() string { return c.sql }

// Err reports the server error, if the statement failed.
func (c *QueryCommand) Err() *protocol.ErrPacket { return c.err }

// IsResultSet reports whether the query produced rows rather than an
// OKPacket (i.e. it was a SELECT-shaped statement).
func (c *QueryCommand) IsResultSet() bool {
	return c.result.OK == nil && c.err == nil
}
