package tds

// Collation is the 5-byte SQL_COLLATION structure: a 4-byte LCID+flags
// word followed by a 1-byte sort ID. The driver carries it from
// COLMETADATA without interpreting it: CHAR/VARCHAR bytes are returned
// as a Go string unchanged, with no code-page conversion, whatever the
// LCID or sort ID.
type Collation [5]byte

// DefaultCollation is SQL_Latin1_General_CP1_CI_AS, the server default
// for most English-locale installations.
var DefaultCollation = Collation{0x09, 0x04, 0xD0, 0x00, 0x34}

// Bytes returns the collation as a slice.
func (c Collation) Bytes() []byte {
	return c[:]
}

// LCID returns the locale identifier portion.
func (c Collation) LCID() uint32 {
	return uint32(c[0]) | uint32(c[1])<<8 | uint32(c[2]&0x0F)<<16
}

// SortID returns the sort order identifier.
func (c Collation) SortID() byte {
	return c[4]
}
