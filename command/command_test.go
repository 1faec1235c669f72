package command

import (
	"testing"

	"github.com/dbbouncer/mysqlcore/protocol"
	"github.com/dbbouncer/mysqlcore/wire"
)

func okPayload(affected, lastID uint64, status protocol.ServerStatus) []byte {
	b := wire.NewPacketBuilder(16)
	b.PutByte(0x00)
	b.PutLengthEncodedInt(affected)
	b.PutLengthEncodedInt(lastID)
	b.PutUint16(uint16(status))
	b.PutUint16(0)
	return b.Bytes()
}

func errPayload(code uint16, state, msg string) []byte {
	b := wire.NewPacketBuilder(32)
	b.PutByte(0xff)
	b.PutUint16(code)
	b.PutByte('#')
	b.PutBytes([]byte(state))
	b.PutBytes([]byte(msg))
	return b.Bytes()
}

func eofPayload(status protocol.ServerStatus) []byte {
	b := wire.NewPacketBuilder(8)
	b.PutByte(0xfe)
	b.PutUint16(0)
	b.PutUint16(uint16(status))
	return b.Bytes()
}

func TestPingCommandOK(t *testing.T) {
	cmd := NewPingCommand(protocol.Required)
	if got := cmd.RequestPayload(); len(got) != 1 || got[0] != comPing {
		t.Fatalf("request payload = %v", got)
	}
	terminal, err := cmd.Accept(okPayload(0, 0, protocol.StatusAutocommit))
	if err != nil {
		t.Fatal(err)
	}
	if !terminal {
		t.Fatal("expected terminal on first OK packet")
	}
	if !cmd.Status().Has(protocol.StatusAutocommit) {
		t.Error("expected autocommit flag preserved")
	}
}

func TestPingCommandError(t *testing.T) {
	cmd := NewPingCommand(protocol.Required)
	terminal, err := cmd.Accept(errPayload(1045, "28000", "access denied"))
	if err != nil {
		t.Fatal(err)
	}
	if !terminal || cmd.Err() == nil {
		t.Fatalf("expected terminal error, got terminal=%v err=%v", terminal, cmd.Err())
	}
}

func TestInitDatabaseCommandRequestBytes(t *testing.T) {
	cmd := NewInitDatabaseCommand(protocol.Required, "appdb")
	req := cmd.RequestPayload()
	if req[0] != comInitDB || string(req[1:]) != "appdb" {
		t.Fatalf("got %q", req)
	}
}

func TestKillCommandRequestBytes(t *testing.T) {
	cmd := NewKillCommand(protocol.Required, 42)
	req := cmd.RequestPayload()
	if req[0] != comQuery || string(req[1:]) != "KILL 42" {
		t.Fatalf("got %q", req)
	}
	terminal, err := cmd.Accept(okPayload(0, 0, protocol.StatusAutocommit))
	if err != nil || !terminal {
		t.Fatalf("terminal=%v err=%v", terminal, err)
	}
}

func TestQuitCommandRequestBytes(t *testing.T) {
	cmd := NewQuitCommand()
	if got := cmd.RequestPayload(); len(got) != 1 || got[0] != comQuit {
		t.Fatalf("got %v", got)
	}
}

func colDefPayload(name string) []byte {
	b := wire.NewPacketBuilder(32)
	b.PutLengthEncodedString("def")
	b.PutLengthEncodedString("testdb")
	b.PutLengthEncodedString("t")
	b.PutLengthEncodedString("t")
	b.PutLengthEncodedString(name)
	b.PutLengthEncodedString(name)
	b.PutLengthEncodedInt(0x0c)
	b.PutUint16(45)
	b.PutUint32(100)
	b.PutByte(0xfd) // VAR_STRING
	b.PutUint16(0)
	b.PutByte(0)
	b.PutBytes([]byte{0, 0})
	return b.Bytes()
}

func rowPayload(values ...string) []byte {
	b := wire.NewPacketBuilder(32)
	for _, v := range values {
		b.PutLengthEncodedString(v)
	}
	return b.Bytes()
}

func TestQueryCommandNonSelect(t *testing.T) {
	cmd := NewQueryCommand(protocol.Required, "DELETE FROM t")
	terminal, err := cmd.Accept(okPayload(3, 0, protocol.StatusAutocommit))
	if err != nil || !terminal {
		t.Fatalf("terminal=%v err=%v", terminal, err)
	}
	if cmd.IsResultSet() {
		t.Fatal("expected non-result-set OK path")
	}
	if cmd.Result().OK.AffectedRows != 3 {
		t.Errorf("affected rows = %d", cmd.Result().OK.AffectedRows)
	}
}

func TestQueryCommandSelectWithLegacyEOF(t *testing.T) {
	caps := protocol.Required // no DEPRECATE_EOF
	cmd := NewQueryCommand(caps, "SELECT name FROM t")

	// Column count = 1.
	if terminal, err := cmd.Accept([]byte{1}); err != nil || terminal {
		t.Fatalf("header: terminal=%v err=%v", terminal, err)
	}
	if terminal, err := cmd.Accept(colDefPayload("name")); err != nil || terminal {
		t.Fatalf("col def: terminal=%v err=%v", terminal, err)
	}
	if terminal, err := cmd.Accept(eofPayload(protocol.StatusAutocommit)); err != nil || terminal {
		t.Fatalf("col eof: terminal=%v err=%v", terminal, err)
	}
	if terminal, err := cmd.Accept(rowPayload("alice")); err != nil || terminal {
		t.Fatalf("row: terminal=%v err=%v", terminal, err)
	}
	terminal, err := cmd.Accept(eofPayload(protocol.StatusAutocommit))
	if err != nil || !terminal {
		t.Fatalf("final eof: terminal=%v err=%v", terminal, err)
	}

	res := cmd.Result()
	if len(res.Columns) != 1 || res.Columns[0].Name != "name" {
		t.Fatalf("columns = %+v", res.Columns)
	}
	if len(res.Rows) != 1 || res.Rows[0].Values[0] == nil || *res.Rows[0].Values[0] != "alice" {
		t.Fatalf("rows = %+v", res.Rows)
	}
}

func TestQueryCommandSelectWithDeprecateEOF(t *testing.T) {
	caps := protocol.Required | protocol.CapDeprecateEOF
	cmd := NewQueryCommand(caps, "SELECT name FROM t")

	if terminal, err := cmd.Accept([]byte{1}); err != nil || terminal {
		t.Fatalf("header: terminal=%v err=%v", terminal, err)
	}
	if terminal, err := cmd.Accept(colDefPayload("name")); err != nil || terminal {
		t.Fatalf("col def: terminal=%v err=%v", terminal, err)
	}
	if terminal, err := cmd.Accept(rowPayload("bob")); err != nil || terminal {
		t.Fatalf("row: terminal=%v err=%v", terminal, err)
	}
	final := okPayload(0, 0, protocol.StatusAutocommit)
	final[0] = 0xfe // DEPRECATE_EOF reuses the EOF header byte for the end-of-rows OK
	terminal, err := cmd.Accept(final)
	if err != nil || !terminal {
		t.Fatalf("final ok-as-eof: terminal=%v err=%v", terminal, err)
	}
	if len(cmd.Result().Rows) != 1 {
		t.Fatalf("rows = %+v", cmd.Result().Rows)
	}
}

func TestQueryCommandErrorAtHeader(t *testing.T) {
	cmd := NewQueryCommand(protocol.Required, "SELECT bad syntax")
	terminal, err := cmd.Accept(errPayload(1064, "42000", "syntax error"))
	if err == nil || !terminal {
		t.Fatalf("expected terminal error, got terminal=%v err=%v", terminal, err)
	}
	if cmd.Err() == nil || cmd.Err().Code != 1064 {
		t.Fatalf("err = %+v", cmd.Err())
	}
}

func TestQueryCommandLocalInfileRejected(t *testing.T) {
	cmd := NewQueryCommand(protocol.Required, "LOAD DATA LOCAL INFILE 'x' INTO TABLE t")
	terminal, err := cmd.Accept([]byte{0xfb, 'x'})
	if err != ErrLocalInfileUnsupported || !terminal {
		t.Fatalf("terminal=%v err=%v", terminal, err)
	}
}

func TestQueryCommandErrorDuringRows(t *testing.T) {
	cmd := NewQueryCommand(protocol.Required, "SELECT name FROM t")
	if _, err := cmd.Accept([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := cmd.Accept(colDefPayload("name")); err != nil {
		t.Fatal(err)
	}
	if _, err := cmd.Accept(eofPayload(0)); err != nil {
		t.Fatal(err)
	}
	terminal, err := cmd.Accept(errPayload(2013, "HY000", "lost connection"))
	if err == nil || !terminal {
		t.Fatalf("terminal=%v err=%v", terminal, err)
	}
}
