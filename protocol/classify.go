package protocol

// PacketKind classifies a generic response packet by its lead byte and
// length, per spec §4.B's priority rules: ERR is an unambiguous lead byte;
// OK is only an OK when it is also long enough (>=7 bytes) to hold its fixed
// fields; EOF is only an EOF when it is also short enough (<9 bytes) to rule
// out a length-encoded-integer column count that happens to start with
// 0xfe.
type PacketKind int

const (
	KindOther PacketKind = iota
	KindOK
	KindErr
	KindEOF
	KindLocalInfile
)

const eofMaxLen = 9

// ClassifyPacket inspects a payload's lead byte (and, for the OK/0x00 and
// EOF/0xfe cases, its length) to determine what kind of packet it is. An empty
// payload classifies as KindOther; callers must check length before
// indexing payload[0] elsewhere.
func ClassifyPacket(payload []byte) PacketKind {
	if len(payload) == 0 {
		return KindOther
	}
	switch payload[0] {
	case 0x00:
		// An OK packet's fixed fields (header, two length-encoded minimums,
		// status, warnings) never fit in under 7 bytes; anything shorter
		// with a 0x00 lead byte is some other packet shape instead.
		if len(payload) < 7 {
			return KindOther
		}
		return KindOK
	case 0xff:
		return KindErr
	case 0xfb:
		return KindLocalInfile
	case 0xfe:
		if len(payload) < eofMaxLen {
			return KindEOF
		}
		return KindOther
	default:
		return KindOther
	}
}
