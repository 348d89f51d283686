package tds

import (
	"fmt"

	"github.com/ha1tch/gotds/internal/wire"
)

// Login7HeaderSize is the size of the fixed LOGIN7 header, before the
// variable-length data block.
const Login7HeaderSize = 94

// Login7Options carries the fields needed to build a LOGIN7 request.
type Login7Options struct {
	TDSVersion   uint32
	PacketSize   uint32
	ClientProgVer uint32
	ClientPID    uint32
	ConnectionID uint32
	OptionFlags1 byte
	OptionFlags2 byte
	TypeFlags    byte
	OptionFlags3 byte
	ClientTimeZone int32
	ClientLCID   uint32

	Hostname   string
	Username   string
	Password   string
	AppName    string
	ServerName string
	Language   string
	Database   string
	ClientID   [6]byte // NIC address / random, 6 bytes

	// SSPI is the raw SSPI blob for integrated auth; when non-empty,
	// Username/Password are ignored and OptionFlags2 must carry the
	// integrated-security bit (set by the caller).
	SSPI []byte
}

// LOGIN7 OptionFlags1 bits this driver cares about.
const (
	OptionFlags1ByteOrderX86  byte = 0x00
	OptionFlags1CharSetASCII  byte = 0x00
	OptionFlags1DumpLoad      byte = 0x10
	OptionFlags1UseDB         byte = 0x20
	OptionFlags1InitLangWarn  byte = 0x80
)

// LOGIN7 OptionFlags2 bits.
const (
	OptionFlags2IntegratedSecurity byte = 0x80
	OptionFlags2UserTypeNormal     byte = 0x00
	OptionFlags2OdbcDriver         byte = 0x02
)

// EncodeLogin7 builds the full LOGIN7 message body: the 94-byte fixed
// header (which embeds the client ID) plus the variable-length data
// block (hostname, username, obfuscated password, app name, server
// name, library name, language, database, then opts.SSPI when it is
// non-empty). Offsets in the header are relative to the
// start of the LOGIN7 message, as required by MS-TDS.
func EncodeLogin7(opts Login7Options) []byte {
	type field struct {
		data []byte
	}

	hostnameEnc := wire.StringToUCS2(opts.Hostname)
	usernameEnc := wire.StringToUCS2(opts.Username)
	passwordEnc := mangleUCS2Password(opts.Password)
	appNameEnc := wire.StringToUCS2(opts.AppName)
	serverNameEnc := wire.StringToUCS2(opts.ServerName)
	unusedEnc := []byte{}
	libraryNameEnc := wire.StringToUCS2("gotds")
	languageEnc := wire.StringToUCS2(opts.Language)
	databaseEnc := wire.StringToUCS2(opts.Database)

	// Only the 9 UCS-2 variable-length fields live in the offset-addressed
	// data region; ClientID is 6 raw bytes embedded directly in the fixed
	// header. AttachDBFile/ChangePassword are unused by this driver (no
	// attach-file, no in-band password change) and contribute no bytes;
	// opts.SSPI is appended after the nine fields only when non-empty.
	fields := []field{
		{hostnameEnc},
		{usernameEnc},
		{passwordEnc},
		{appNameEnc},
		{serverNameEnc},
		{unusedEnc}, // extension block, unused
		{libraryNameEnc},
		{languageEnc},
		{databaseEnc},
	}

	dataOffset := Login7HeaderSize
	offsets := make([]int, len(fields))
	cursor := dataOffset
	for i, f := range fields {
		offsets[i] = cursor
		cursor += len(f.data)
	}

	sspiOffset := cursor
	sspiLen := len(opts.SSPI)
	cursor += sspiLen

	totalLen := cursor

	buf := wire.NewWriter(totalLen)
	buf.Uint32LE(uint32(totalLen))
	buf.Uint32LE(opts.TDSVersion)
	buf.Uint32LE(opts.PacketSize)
	buf.Uint32LE(opts.ClientProgVer)
	buf.Uint32LE(opts.ClientPID)
	buf.Uint32LE(opts.ConnectionID)
	buf.Byte(opts.OptionFlags1)
	buf.Byte(opts.OptionFlags2)
	buf.Byte(opts.TypeFlags)
	buf.Byte(opts.OptionFlags3)
	buf.Int32LE(opts.ClientTimeZone)
	buf.Uint32LE(opts.ClientLCID)

	buf.Uint16LE(uint16(offsets[0]))
	buf.Uint16LE(uint16(len(hostnameEnc) / 2))
	buf.Uint16LE(uint16(offsets[1]))
	buf.Uint16LE(uint16(len(usernameEnc) / 2))
	buf.Uint16LE(uint16(offsets[2]))
	buf.Uint16LE(uint16(len(passwordEnc) / 2))
	buf.Uint16LE(uint16(offsets[3]))
	buf.Uint16LE(uint16(len(appNameEnc) / 2))
	buf.Uint16LE(uint16(offsets[4]))
	buf.Uint16LE(uint16(len(serverNameEnc) / 2))
	buf.Uint16LE(0) // extension offset, unused
	buf.Uint16LE(0) // extension length
	buf.Uint16LE(uint16(offsets[6]))
	buf.Uint16LE(uint16(len(libraryNameEnc) / 2))
	buf.Uint16LE(uint16(offsets[7]))
	buf.Uint16LE(uint16(len(languageEnc) / 2))
	buf.Uint16LE(uint16(offsets[8]))
	buf.Uint16LE(uint16(len(databaseEnc) / 2))
	buf.Raw(opts.ClientID[:])
	buf.Uint16LE(uint16(sspiOffset))
	buf.Uint16LE(uint16(sspiLen))
	buf.Uint16LE(0) // AttachDBFile offset, unused
	buf.Uint16LE(0) // AttachDBFile length
	buf.Uint16LE(0) // ChangePassword offset, unused
	buf.Uint16LE(0) // ChangePassword length
	buf.Uint32LE(0) // SSPILong (reserved for large SSPI payloads)

	buf.Raw(hostnameEnc)
	buf.Raw(usernameEnc)
	buf.Raw(passwordEnc)
	buf.Raw(appNameEnc)
	buf.Raw(serverNameEnc)
	buf.Raw(libraryNameEnc)
	buf.Raw(languageEnc)
	buf.Raw(databaseEnc)
	if sspiLen > 0 {
		buf.Raw(opts.SSPI)
	}

	return buf.Bytes()
}

// mangleUCS2Password obfuscates a password for LOGIN7: each byte has its
// nibbles swapped, then is XORed with 0xA5. This is not real encryption
// — it exists only to keep passwords from appearing verbatim on the
// wire to a passive observer of an unencrypted connection.
func mangleUCS2Password(password string) []byte {
	enc := wire.StringToUCS2(password)
	out := make([]byte, len(enc))
	for i, b := range enc {
		swapped := (b << 4) | (b >> 4)
		out[i] = swapped ^ 0xA5
	}
	return out
}

// unmangleUCS2Password reverses mangleUCS2Password; both directions
// share the same byte-level transform (XOR then nibble-swap is its own
// inverse applied in the opposite order). No code in this module calls
// it.
func unmangleUCS2Password(mangled []byte) string {
	out := make([]byte, len(mangled))
	for i, b := range mangled {
		unxored := b ^ 0xA5
		out[i] = (unxored >> 4) | (unxored << 4)
	}
	return wire.UCS2ToString(out)
}

// ParseLoginAckInterface renders the LOGINACK interface byte.
func ParseLoginAckInterface(b byte) string {
	switch b {
	case 0x70:
		return "SQL_TDS70"
	case 0x71:
		return "SQL_TDS71"
	case 0x72:
		return "SQL_TDS72"
	case 0x73:
		return "SQL_TDS73"
	case 0x74:
		return "SQL_TDS74"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", b)
	}
}
