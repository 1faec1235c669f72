package protocol

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/dbbouncer/mysqlcore/wire"
)

func TestNegotiateRequiresCoreCapabilities(t *testing.T) {
	_, err := Negotiate(CapProtocol41, CapProtocol41|CapPluginAuth)
	if err == nil {
		t.Fatal("expected error when server lacks PLUGIN_AUTH/SECURE_CONNECTION")
	}
}

func TestNegotiateIntersectsDesired(t *testing.T) {
	server := Required | CapDeprecateEOF | CapConnectWithDB
	desired := Required | CapDeprecateEOF
	got, err := Negotiate(server, desired)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Has(Required) || !got.Has(CapDeprecateEOF) {
		t.Errorf("expected required+deprecate_eof, got 0x%08x", uint32(got))
	}
	if got.Has(CapConnectWithDB) {
		t.Error("CapConnectWithDB was not desired and must not be set")
	}
}

func TestClassifyPacket(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want PacketKind
	}{
		{"empty", nil, KindOther},
		{"ok", []byte{0x00, 0, 0, 2, 0, 0, 0}, KindOK},
		{"err", []byte{0xff, 1, 2}, KindErr},
		{"local_infile", []byte{0xfb, 'f'}, KindLocalInfile},
		{"eof_short", []byte{0xfe, 0, 0, 0, 0}, KindEOF},
		{"eof_too_long_is_lenc_int", []byte{0xfe, 0, 0, 0, 0, 0, 0, 0, 0, 0}, KindOther},
		{"other", []byte{0x05, 'x'}, KindOther},
	}
	for _, c := range cases {
		if got := ClassifyPacket(c.in); got != c.want {
			t.Errorf("%s: ClassifyPacket = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDecodeOKPacketProtocol41(t *testing.T) {
	b := wire.NewPacketBuilder(16)
	b.PutByte(0x00)
	b.PutLengthEncodedInt(42)
	b.PutLengthEncodedInt(7)
	b.PutUint16(uint16(StatusAutocommit))
	b.PutUint16(0)
	b.PutBytes([]byte("rows matched"))

	ok, err := DecodeOKPacket(b.Bytes(), CapProtocol41)
	if err != nil {
		t.Fatal(err)
	}
	if ok.AffectedRows != 42 || ok.LastInsertID != 7 {
		t.Errorf("got %+v", ok)
	}
	if !ok.Status.Has(StatusAutocommit) {
		t.Errorf("expected autocommit status flag, got 0x%04x", uint16(ok.Status))
	}
	if ok.Info != "rows matched" {
		t.Errorf("info = %q", ok.Info)
	}
}

func TestDecodeErrPacketWithSQLState(t *testing.T) {
	b := wire.NewPacketBuilder(16)
	b.PutByte(0xff)
	b.PutUint16(1062)
	b.PutByte('#')
	b.PutBytes([]byte("23000"))
	b.PutBytes([]byte("Duplicate entry"))

	e, err := DecodeErrPacket(b.Bytes(), CapProtocol41)
	if err != nil {
		t.Fatal(err)
	}
	if e.Code != 1062 || e.SQLState != "23000" || e.Message != "Duplicate entry" {
		t.Errorf("got %+v", e)
	}
}

func TestDecodeEOFPacket(t *testing.T) {
	b := wire.NewPacketBuilder(8)
	b.PutByte(0xfe)
	b.PutUint16(3)
	b.PutUint16(uint16(StatusInTrans))

	eof, err := DecodeEOFPacket(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if eof.Warnings != 3 || !eof.Status.InTransaction() {
		t.Errorf("got %+v", eof)
	}
}

func TestColumnDefinitionRoundTrip(t *testing.T) {
	b := wire.NewPacketBuilder(64)
	b.PutLengthEncodedString("def")
	b.PutLengthEncodedString("testdb")
	b.PutLengthEncodedString("users")
	b.PutLengthEncodedString("users")
	b.PutLengthEncodedString("id")
	b.PutLengthEncodedString("id")
	b.PutLengthEncodedInt(0x0c)
	b.PutUint16(45)
	b.PutUint32(11)
	b.PutByte(0x03) // LONG
	b.PutUint16(uint16(ColFlagNotNull | ColFlagPrimaryKey | ColFlagAutoIncrement))
	b.PutByte(0)
	b.PutBytes([]byte{0, 0})

	col, err := DecodeColumnDefinition41(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if col.Name != "id" || col.CharsetID != 45 || col.ColumnLength != 11 {
		t.Errorf("got %+v", col)
	}
	if !(col.Flags&ColFlagPrimaryKey != 0) {
		t.Error("expected primary-key flag")
	}
}

func TestDecodeTextRowWithNull(t *testing.T) {
	b := wire.NewPacketBuilder(16)
	b.PutLengthEncodedString("alice")
	b.PutByte(0xfb) // NULL
	b.PutLengthEncodedString("")

	row, err := DecodeTextRow(b.Bytes(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if row.Values[0] == nil || *row.Values[0] != "alice" {
		t.Errorf("col0 = %v", row.Values[0])
	}
	if row.Values[1] != nil {
		t.Errorf("col1 should be NULL, got %v", row.Values[1])
	}
	if row.Values[2] == nil || *row.Values[2] != "" {
		t.Errorf("col2 should be empty string, got %v", row.Values[2])
	}
}

func TestScramblePasswordEmptyPassword(t *testing.T) {
	if got := ScramblePassword("", []byte("01234567890123456789")); got != nil {
		t.Errorf("expected nil for empty password, got %v", got)
	}
}

func TestScramblePasswordMatchesFormula(t *testing.T) {
	password := "s3cret"
	seed := []byte("01234567890123456789")

	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])
	h := sha1.New()
	h.Write(seed)
	h.Write(stage2[:])
	stage3 := h.Sum(nil)
	want := make([]byte, 20)
	for i := range want {
		want[i] = stage1[i] ^ stage3[i]
	}

	got := ScramblePassword(password, seed)
	if !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestHandshakeResponse41EncodeDecodeFields(t *testing.T) {
	resp := HandshakeResponse41{
		Capabilities:   Required | CapConnectWithDB | CapSecureConnection,
		MaxPacketSize:  16777215,
		Charset:        DefaultClientCharset,
		Username:       "appuser",
		AuthResponse:   []byte{1, 2, 3, 4},
		Database:       "appdb",
		AuthPluginName: "mysql_native_password",
	}
	payload := resp.Encode()

	r := wire.NewPacketReader(payload)
	capLow, _ := r.FixedInt(4)
	if Capabilities(capLow) != resp.Capabilities {
		t.Errorf("capabilities round-trip mismatch: got 0x%08x", capLow)
	}
	if _, err := r.FixedInt(4); err != nil {
		t.Fatal(err)
	}
	charset, _ := r.FixedInt(1)
	if byte(charset) != resp.Charset {
		t.Errorf("charset mismatch")
	}
	if _, err := r.FixedString(23); err != nil {
		t.Fatal(err)
	}
	user, err := r.NullTerminatedString()
	if err != nil || user != "appuser" {
		t.Errorf("username = %q, err %v", user, err)
	}
	authLen, err := r.FixedInt(1)
	if err != nil || authLen != 4 {
		t.Fatalf("auth length = %d, err %v", authLen, err)
	}
	auth, err := r.FixedString(4)
	if err != nil || auth != string([]byte{1, 2, 3, 4}) {
		t.Errorf("auth response mismatch: %q", auth)
	}
	db, err := r.NullTerminatedString()
	if err != nil || db != "appdb" {
		t.Errorf("database = %q", db)
	}
}

func TestDecodeHandshakeV10(t *testing.T) {
	b := wire.NewPacketBuilder(64)
	b.PutByte(10)
	b.PutNullTerminatedString("8.0.34-mysqlcore")
	b.PutUint32(99)
	b.PutBytes([]byte("abcdefgh")) // seed part 1, 8 bytes
	b.PutByte(0)                   // filler

	caps := Required | CapDeprecateEOF
	b.PutUint16(uint16(caps & 0xffff))
	b.PutByte(45) // charset
	b.PutUint16(uint16(StatusAutocommit))
	b.PutUint16(uint16((caps >> 16) & 0xffff))
	b.PutByte(21) // auth-plugin-data-len: 8 (part1) + 13 (part2 incl NUL) = 21
	b.PutBytes(make([]byte, 10))
	b.PutBytes([]byte("ijklmnopqrst")) // seed part 2, 12 bytes
	b.PutByte(0)                       // terminator
	b.PutNullTerminatedString("mysql_native_password")

	hs, err := DecodeHandshakeV10(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if hs.ProtocolVersion != 10 || hs.ConnectionID != 99 {
		t.Errorf("got %+v", hs)
	}
	if len(hs.AuthSeed) != 20 {
		t.Errorf("auth seed length = %d, want 20", len(hs.AuthSeed))
	}
	if hs.AuthPluginName != "mysql_native_password" {
		t.Errorf("auth plugin = %q", hs.AuthPluginName)
	}
	if !hs.Capabilities.Has(Required) {
		t.Error("expected Required capabilities to round-trip")
	}
}

func TestCharsetNameFallsBackToBinary(t *testing.T) {
	if CharsetName(45) != "utf8mb4" {
		t.Errorf("expected utf8mb4 for id 45")
	}
	if CharsetName(200) != "binary" {
		t.Errorf("expected binary fallback for unknown id")
	}
}
