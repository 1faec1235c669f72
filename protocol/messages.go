package protocol

import (
	"fmt"

	"github.com/dbbouncer/mysqlcore/wire"
)

// OKPacket is the generic success envelope carried at the head of a
// command's response, or as its sole response for non-result-set commands.
type OKPacket struct {
	AffectedRows uint64
	LastInsertID uint64
	Status       ServerStatus
	Warnings     uint16
	Info         string
}

// DecodeOKPacket parses payload as an OKPacket. capabilities determines
// whether the status/warning fields are present (PROTOCOL_41) versus the
// older transactions-only layout. The lead byte may be 0x00 or 0xfe: under
// DEPRECATE_EOF the server reuses the legacy EOF header byte for the
// end-of-rows OK packet, so both are accepted here rather than only 0x00.
func DecodeOKPacket(payload []byte, caps Capabilities) (OKPacket, error) {
	r := wire.NewPacketReader(payload)
	lead, err := r.FixedInt(1)
	if err != nil {
		return OKPacket{}, err
	}
	if lead != 0x00 && lead != 0xfe {
		return OKPacket{}, fmt.Errorf("protocol: OKPacket lead byte is 0x%02x", lead)
	}

	var ok OKPacket
	ok.AffectedRows, _, err = r.LengthEncodedInt()
	if err != nil {
		return OKPacket{}, fmt.Errorf("protocol: OKPacket affected-rows: %w", err)
	}
	ok.LastInsertID, _, err = r.LengthEncodedInt()
	if err != nil {
		return OKPacket{}, fmt.Errorf("protocol: OKPacket last-insert-id: %w", err)
	}

	switch {
	case caps.Has(CapProtocol41):
		status, err := r.FixedInt(2)
		if err != nil {
			return OKPacket{}, fmt.Errorf("protocol: OKPacket status: %w", err)
		}
		ok.Status = ServerStatus(status)
		warnings, err := r.FixedInt(2)
		if err != nil {
			return OKPacket{}, fmt.Errorf("protocol: OKPacket warnings: %w", err)
		}
		ok.Warnings = uint16(warnings)
	case caps.Has(CapTransactions):
		status, err := r.FixedInt(2)
		if err != nil {
			return OKPacket{}, fmt.Errorf("protocol: OKPacket status: %w", err)
		}
		ok.Status = ServerStatus(status)
	}

	if r.Remaining() > 0 {
		ok.Info = r.RestOfPacketString()
	}
	return ok, nil
}

// ErrPacket is the fatal-to-the-command error envelope. The channel that
// received it remains usable for the next command.
type ErrPacket struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e ErrPacket) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("mysql: error %d (%s): %s", e.Code, e.SQLState, e.Message)
	}
	return fmt.Sprintf("mysql: error %d: %s", e.Code, e.Message)
}

// DecodeErrPacket parses payload as an ErrPacket. The 5-byte SQL-state
// region is only present (preceded by a '#' marker byte) when PROTOCOL_41
// was negotiated.
func DecodeErrPacket(payload []byte, caps Capabilities) (ErrPacket, error) {
	r := wire.NewPacketReader(payload)
	lead, err := r.FixedInt(1)
	if err != nil {
		return ErrPacket{}, err
	}
	if lead != 0xff {
		return ErrPacket{}, fmt.Errorf("protocol: ErrPacket lead byte is 0x%02x", lead)
	}

	code, err := r.FixedInt(2)
	if err != nil {
		return ErrPacket{}, fmt.Errorf("protocol: ErrPacket code: %w", err)
	}

	var sqlState string
	if caps.Has(CapProtocol41) {
		marker, ok := r.Peek()
		if ok && marker == '#' {
			if _, err := r.FixedInt(1); err != nil {
				return ErrPacket{}, err
			}
			sqlState, err = r.FixedString(5)
			if err != nil {
				return ErrPacket{}, fmt.Errorf("protocol: ErrPacket sql-state: %w", err)
			}
		}
	}

	return ErrPacket{
		Code:     uint16(code),
		SQLState: sqlState,
		Message:  r.RestOfPacketString(),
	}, nil
}

// EOFPacket is the legacy result-set terminator, present only when
// DEPRECATE_EOF was not negotiated.
type EOFPacket struct {
	Warnings uint16
	Status   ServerStatus
}

// DecodeEOFPacket parses payload as an EOFPacket.
func DecodeEOFPacket(payload []byte) (EOFPacket, error) {
	r := wire.NewPacketReader(payload)
	lead, err := r.FixedInt(1)
	if err != nil {
		return EOFPacket{}, err
	}
	if lead != 0xfe {
		return EOFPacket{}, fmt.Errorf("protocol: EOFPacket lead byte is 0x%02x", lead)
	}
	warnings, err := r.FixedInt(2)
	if err != nil {
		return EOFPacket{}, fmt.Errorf("protocol: EOFPacket warnings: %w", err)
	}
	status, err := r.FixedInt(2)
	if err != nil {
		return EOFPacket{}, fmt.Errorf("protocol: EOFPacket status: %w", err)
	}
	return EOFPacket{Warnings: uint16(warnings), Status: ServerStatus(status)}, nil
}

// ColumnFlag holds the definition-flags bitset of a ColumnDefinition41.
type ColumnFlag uint16

const (
	ColFlagNotNull      ColumnFlag = 1 << 0
	ColFlagPrimaryKey   ColumnFlag = 1 << 1
	ColFlagUniqueKey    ColumnFlag = 1 << 2
	ColFlagMultipleKey  ColumnFlag = 1 << 3
	ColFlagBlob         ColumnFlag = 1 << 4
	ColFlagUnsigned     ColumnFlag = 1 << 5
	ColFlagZerofill     ColumnFlag = 1 << 6
	ColFlagBinary       ColumnFlag = 1 << 7
	ColFlagEnum         ColumnFlag = 1 << 8
	ColFlagAutoIncrement ColumnFlag = 1 << 9
	ColFlagTimestamp    ColumnFlag = 1 << 10
	ColFlagSet          ColumnFlag = 1 << 11
)

// ColumnDefinition41 describes one result-set column.
type ColumnDefinition41 struct {
	Catalog      string
	Schema       string
	Table        string
	OrigTable    string
	Name         string
	OrigName     string
	CharsetID    uint16
	ColumnLength uint32
	Type         byte
	Flags        ColumnFlag
	Decimals     byte
}

// DecodeColumnDefinition41 parses a column-definition packet payload.
func DecodeColumnDefinition41(payload []byte) (ColumnDefinition41, error) {
	r := wire.NewPacketReader(payload)
	var c ColumnDefinition41
	var err error

	if c.Catalog, err = r.LengthEncodedString(); err != nil {
		return c, fmt.Errorf("protocol: column catalog: %w", err)
	}
	if c.Schema, err = r.LengthEncodedString(); err != nil {
		return c, fmt.Errorf("protocol: column schema: %w", err)
	}
	if c.Table, err = r.LengthEncodedString(); err != nil {
		return c, fmt.Errorf("protocol: column table: %w", err)
	}
	if c.OrigTable, err = r.LengthEncodedString(); err != nil {
		return c, fmt.Errorf("protocol: column orig_table: %w", err)
	}
	if c.Name, err = r.LengthEncodedString(); err != nil {
		return c, fmt.Errorf("protocol: column name: %w", err)
	}
	if c.OrigName, err = r.LengthEncodedString(); err != nil {
		return c, fmt.Errorf("protocol: column orig_name: %w", err)
	}
	fixedLen, _, err := r.LengthEncodedInt()
	if err != nil {
		return c, fmt.Errorf("protocol: column fixed-length marker: %w", err)
	}
	if fixedLen != 0x0c {
		return c, fmt.Errorf("protocol: column fixed-length marker is %d, want 12", fixedLen)
	}

	charset, err := r.FixedInt(2)
	if err != nil {
		return c, err
	}
	c.CharsetID = uint16(charset)

	colLen, err := r.FixedInt(4)
	if err != nil {
		return c, err
	}
	c.ColumnLength = uint32(colLen)

	typ, err := r.FixedInt(1)
	if err != nil {
		return c, err
	}
	c.Type = byte(typ)

	flags, err := r.FixedInt(2)
	if err != nil {
		return c, err
	}
	c.Flags = ColumnFlag(flags)

	decimals, err := r.FixedInt(1)
	if err != nil {
		return c, err
	}
	c.Decimals = byte(decimals)

	// Two filler bytes follow per protocol; ignored.
	return c, nil
}

// TextRow is one row of a text result-set: one optional value per column,
// with a nil element distinguishing SQL NULL from an empty string.
type TextRow struct {
	Values []*string
}

// DecodeTextRow parses a row packet's payload against the given column
// count. A 0xFB lead byte at a column position denotes NULL.
func DecodeTextRow(payload []byte, numCols int) (TextRow, error) {
	r := wire.NewPacketReader(payload)
	row := TextRow{Values: make([]*string, numCols)}
	for i := 0; i < numCols; i++ {
		n, isNull, err := r.LengthEncodedInt()
		if err != nil {
			return TextRow{}, fmt.Errorf("protocol: row column %d: %w", i, err)
		}
		if isNull {
			continue
		}
		s, err := r.FixedString(int(n))
		if err != nil {
			return TextRow{}, fmt.Errorf("protocol: row column %d value: %w", i, err)
		}
		row.Values[i] = &s
	}
	return row, nil
}
