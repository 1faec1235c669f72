package protocol

// charsetNames maps the collation ids a server is likely to hand back in a
// HandshakeV10 or ColumnDefinition41 to a human-readable charset name. This
// is a practical subset of the full collation table, not an exhaustive
// mirror of every entry MySQL ships: unrecognized ids fall back to
// "binary" rather than being assumed to be UTF-8, since a server configured
// with a Latin-family default would otherwise have its charset silently
// misreported.
var charsetNames = map[uint8]string{
	8:   "latin1",
	28:  "gbk",
	33:  "utf8",
	45:  "utf8mb4",
	63:  "binary",
	83:  "utf8",
	224: "utf8mb4",
	246: "utf8mb4",
	255: "utf8mb4",
}

// CharsetName resolves a collation id to its charset name, or "binary" if
// the id isn't in the known subset.
func CharsetName(id uint8) string {
	if name, ok := charsetNames[id]; ok {
		return name
	}
	return "binary"
}

// DefaultClientCharset is the collation id this module requests during
// handshake when the caller hasn't specified one (utf8mb4_general_ci).
const DefaultClientCharset uint8 = 45
