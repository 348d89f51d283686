package tds

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol version constants.
const (
	VerTDS70     uint32 = 0x70000000
	VerTDS71     uint32 = 0x71000000
	VerTDS71Rev1 uint32 = 0x71000001
	VerTDS72     uint32 = 0x72090002
	VerTDS73A    uint32 = 0x730A0003
	VerTDS73B    uint32 = 0x730B0003
	VerTDS74     uint32 = 0x74000004
	VerTDS80     uint32 = 0x08000000 // strict encryption (TDS 8.0)
)

// VersionString renders a TDS version constant for logging.
func VersionString(ver uint32) string {
	switch ver {
	case VerTDS70:
		return "7.0"
	case VerTDS71:
		return "7.1"
	case VerTDS71Rev1:
		return "7.1 Rev 1"
	case VerTDS72:
		return "7.2"
	case VerTDS73A:
		return "7.3A"
	case VerTDS73B:
		return "7.3B"
	case VerTDS74:
		return "7.4"
	case VerTDS80:
		return "8.0"
	default:
		return fmt.Sprintf("unknown (0x%08X)", ver)
	}
}

// Prelogin option tokens.
const (
	PreloginVersion    byte = 0x00
	PreloginEncryption byte = 0x01
	PreloginInstOpt    byte = 0x02
	PreloginThreadID   byte = 0x03
	PreloginMARS       byte = 0x04
	PreloginTraceID    byte = 0x05
	PreloginFedAuth    byte = 0x06
	PreloginNonceOpt   byte = 0x07
	PreloginTerminator byte = 0xFF
)

// Encryption negotiation values.
const (
	EncryptOff    byte = 0x00
	EncryptOn     byte = 0x01
	EncryptNotSup byte = 0x02
	EncryptReq    byte = 0x03
	EncryptStrict byte = 0x04
)

// Prelogin is the parsed contents of a PRELOGIN message in either
// direction: client request or server response.
type Prelogin struct {
	Version    [6]byte
	Encryption byte
	Instance   string
	ThreadID   uint32
	MARS       byte
	FedAuth    byte
	Nonce      []byte
}

// preloginOption is an (offset, length) pair in the second-pass payload,
// keyed by option token in the first-pass option header list.
type preloginOption struct {
	offset uint16
	length uint16
}

// EncodePrelogin builds the client's PRELOGIN message body: the token
// table followed by each option's payload, terminated by 0xFF.
func EncodePrelogin(p Prelogin, encryption byte, instance string) []byte {
	type fieldOption struct {
		token byte
		data  []byte
	}

	var version [6]byte
	copy(version[:], p.Version[:])

	fields := []fieldOption{
		{PreloginVersion, version[:]},
		{PreloginEncryption, []byte{encryption}},
		{PreloginInstOpt, append([]byte(instance), 0)},
		{PreloginThreadID, encodeU32BE(0)},
		{PreloginMARS, []byte{0}}, // MARS off, not used by this driver
	}

	headerSize := len(fields)*5 + 1 // +1 terminator
	var offsets []uint16
	total := 0
	for _, f := range fields {
		offsets = append(offsets, uint16(headerSize+total))
		total += len(f.data)
	}

	out := make([]byte, 0, headerSize+total)
	for i, f := range fields {
		out = append(out, f.token)
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:2], offsets[i])
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(f.data)))
		out = append(out, hdr[:]...)
	}
	out = append(out, PreloginTerminator)
	for _, f := range fields {
		out = append(out, f.data...)
	}
	return out
}

// ParsePrelogin parses a PRELOGIN message body sent by either peer. The
// wire shape is direction-agnostic: a token/offset/length header table
// followed by a flat payload region.
func ParsePrelogin(data []byte) (*Prelogin, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("tds: empty PRELOGIN payload")
	}

	options := make(map[byte]preloginOption)
	offset := 0
	for {
		if offset >= len(data) {
			return nil, fmt.Errorf("tds: PRELOGIN option table truncated")
		}
		token := data[offset]
		if token == PreloginTerminator {
			break
		}
		if offset+5 > len(data) {
			return nil, fmt.Errorf("tds: PRELOGIN option header truncated")
		}
		options[token] = preloginOption{
			offset: binary.BigEndian.Uint16(data[offset+1 : offset+3]),
			length: binary.BigEndian.Uint16(data[offset+3 : offset+5]),
		}
		offset += 5
	}

	p := &Prelogin{}
	get := func(token byte) ([]byte, bool) {
		opt, ok := options[token]
		if !ok {
			return nil, false
		}
		end := int(opt.offset) + int(opt.length)
		if int(opt.offset) > len(data) || end > len(data) {
			return nil, false
		}
		return data[opt.offset:end], true
	}

	if v, ok := get(PreloginVersion); ok && len(v) >= 6 {
		copy(p.Version[:], v)
	}
	if v, ok := get(PreloginEncryption); ok && len(v) >= 1 {
		p.Encryption = v[0]
	}
	if v, ok := get(PreloginInstOpt); ok {
		p.Instance = trimNull(v)
	}
	if v, ok := get(PreloginThreadID); ok && len(v) >= 4 {
		p.ThreadID = binary.BigEndian.Uint32(v)
	}
	if v, ok := get(PreloginMARS); ok && len(v) >= 1 {
		p.MARS = v[0]
	}
	if v, ok := get(PreloginFedAuth); ok && len(v) >= 1 {
		p.FedAuth = v[0]
	}
	if v, ok := get(PreloginNonceOpt); ok {
		p.Nonce = append([]byte(nil), v...)
	}

	return p, nil
}

func trimNull(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func encodeU32BE(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}
