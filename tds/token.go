package tds

import (
	"fmt"
	"io"

	"github.com/ha1tch/gotds/internal/wire"
)

// TokenType identifies a response-stream token.
type TokenType uint8

const (
	TokenReturnStatus  TokenType = 0x79
	TokenColMetadata   TokenType = 0x81
	TokenOrder         TokenType = 0xA9
	TokenError         TokenType = 0xAA
	TokenInfo          TokenType = 0xAB
	TokenReturnValue   TokenType = 0xAC
	TokenLoginAck      TokenType = 0xAD
	TokenFeatureExtAck TokenType = 0xAE
	TokenRow           TokenType = 0xD1
	TokenNBCRow        TokenType = 0xD2
	TokenEnvChange     TokenType = 0xE3
	TokenSSPI          TokenType = 0xED
	TokenFedAuthInfo   TokenType = 0xEE
	TokenDone          TokenType = 0xFD
	TokenDoneProc      TokenType = 0xFE
	TokenDoneInProc    TokenType = 0xFF
	TokenColInfo       TokenType = 0xA5
)

func (t TokenType) String() string {
	switch t {
	case TokenReturnStatus:
		return "RETURNSTATUS"
	case TokenColMetadata:
		return "COLMETADATA"
	case TokenOrder:
		return "ORDER"
	case TokenError:
		return "ERROR"
	case TokenInfo:
		return "INFO"
	case TokenReturnValue:
		return "RETURNVALUE"
	case TokenLoginAck:
		return "LOGINACK"
	case TokenFeatureExtAck:
		return "FEATUREEXTACK"
	case TokenRow:
		return "ROW"
	case TokenNBCRow:
		return "NBCROW"
	case TokenEnvChange:
		return "ENVCHANGE"
	case TokenSSPI:
		return "SSPI"
	case TokenFedAuthInfo:
		return "FEDAUTHINFO"
	case TokenDone:
		return "DONE"
	case TokenDoneProc:
		return "DONEPROC"
	case TokenDoneInProc:
		return "DONEINPROC"
	case TokenColInfo:
		return "COLINFO"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// Done status flags, shared by DONE/DONEPROC/DONEINPROC.
const (
	DoneFinal    uint16 = 0x0000
	DoneMore     uint16 = 0x0001
	DoneError    uint16 = 0x0002
	DoneInxact   uint16 = 0x0004
	DoneCount    uint16 = 0x0010
	DoneAttn     uint16 = 0x0020
	DoneSrvError uint16 = 0x0100
)

// DoneToken is shared by DONE, DONEPROC and DONEINPROC (same wire shape).
type DoneToken struct {
	Kind     TokenType
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (d DoneToken) Final() bool      { return d.Status&DoneMore == 0 }
func (d DoneToken) HasError() bool   { return d.Status&DoneError != 0 }
func (d DoneToken) HasCount() bool   { return d.Status&DoneCount != 0 }
func (d DoneToken) Cancelled() bool  { return d.Status&DoneAttn != 0 }

// ColMetadataToken carries the column descriptions for an upcoming
// result set.
type ColMetadataToken struct {
	Columns []Column
}

// RowToken carries one result-set row's decoded values, column-ordered.
type RowToken struct {
	Values []interface{}
}

// ErrorToken and InfoToken share the ERROR/INFO wire shape; InfoToken is
// non-terminal (severity < 11), ErrorToken is usually terminal.
type ErrorToken struct {
	Number     int32
	State      byte
	Class      byte
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

func (e ErrorToken) Error() string {
	return fmt.Sprintf("tds: server error %d (severity %d): %s", e.Number, e.Class, e.Message)
}

type InfoToken ErrorToken

// EnvChangeToken carries one ENVCHANGE notification.
type EnvChangeToken struct {
	Type     byte
	NewValue string
	OldValue string
	// NewCollation/OldCollation are populated instead of NewValue/OldValue
	// for Type == EnvSQLCollation.
	NewCollation []byte
	OldCollation []byte
	// NewDescriptor/OldDescriptor are populated instead of NewValue/OldValue
	// for Type == EnvBeginTran/EnvCommitTran/EnvRollbackTran/EnvEnlistDTC:
	// the raw 8-byte transaction descriptor MS-TDS sends as a binary
	// blob, not a character string.
	NewDescriptor []byte
	OldDescriptor []byte
}

// TransactionDescriptor decodes t.NewDescriptor as the little-endian
// uint64 transaction descriptor subsequent requests must echo back in
// their ALL_HEADERS to stay inside this transaction. Returns 0 if
// NewDescriptor isn't a full 8 bytes (not a transaction ENVCHANGE, or
// a rollback to nothing).
func (t EnvChangeToken) TransactionDescriptor() uint64 {
	if len(t.NewDescriptor) != 8 {
		return 0
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(t.NewDescriptor[i])
	}
	return v
}

// ENVCHANGE types.
const (
	EnvDatabase            byte = 1
	EnvLanguage            byte = 2
	EnvCharset             byte = 3
	EnvPacketSize          byte = 4
	EnvSortID              byte = 5
	EnvSortFlags           byte = 6
	EnvSQLCollation        byte = 7
	EnvBeginTran           byte = 8
	EnvCommitTran          byte = 9
	EnvRollbackTran        byte = 10
	EnvEnlistDTC           byte = 11
	EnvDefectTran          byte = 12
	EnvMirrorPartner       byte = 13
	EnvPromoteTran         byte = 15
	EnvTranMgrAddr         byte = 16
	EnvTranEnded           byte = 17
	EnvResetConnAck        byte = 18
	EnvStartedInstanceName byte = 19
	EnvRouting             byte = 20
)

// LoginAckToken acknowledges a successful login.
type LoginAckToken struct {
	Interface   byte
	TDSVersion  uint32
	ProgName    string
	ProgVersion uint32
}

// ReturnStatusToken carries a stored procedure's integer return code.
type ReturnStatusToken struct {
	Value int32
}

// ReturnValueToken carries one RPC output parameter or RETURN value.
type ReturnValueToken struct {
	Ordinal  uint16
	Name     string
	Status   byte
	UserType uint32
	Column   Column
	Value    interface{}
}

// OrderToken lists column ordinals the result set is sorted by.
type OrderToken struct {
	ColumnOrdinals []uint16
}

// FeatureExtAckToken and FedAuthInfoToken are parsed but not acted on:
// this driver negotiates no optional features and performs no federated
// auth, so their payloads are kept as opaque bytes on the token that
// Parser.Next returns; Pipeline.drive ignores them.
type FeatureExtAckToken struct {
	Raw []byte
}

type FedAuthInfoToken struct {
	Raw []byte
}

type SSPIToken struct {
	Raw []byte
}

// RoutingInfo describes the value of an ENVCHANGE of Type == EnvRouting.
// parseEnvChange does not build one: it renders the routing value into
// NewValue as "routing:<protocol>:<host>:<port>", which applyEnvChange
// parses.
type RoutingInfo struct {
	Protocol byte
	Port     uint16
	Host     string
}

// Parser reads a sequence of tokens from one fully-assembled TDS
// message. It retains COLMETADATA column state across ROW/NBCROW tokens
// within the message, the way a real driver's token stream must.
type Parser struct {
	r       *wire.Reader
	columns []Column
}

// NewParser creates a token Parser over a complete message body (the
// concatenated payloads of all packets up to and including the one with
// the EOM status bit set).
func NewParser(data []byte) *Parser {
	return &Parser{r: wire.NewReader(data)}
}

// Next reads and returns the next token, or io.EOF when the message is
// exhausted.
func (p *Parser) Next() (interface{}, error) {
	if p.r.Len() == 0 {
		return nil, io.EOF
	}

	b, err := p.r.Byte()
	if err != nil {
		return nil, err
	}

	switch TokenType(b) {
	case TokenColMetadata:
		return p.parseColMetadata()
	case TokenRow:
		return p.parseRow()
	case TokenNBCRow:
		return p.parseNBCRow()
	case TokenDone, TokenDoneProc, TokenDoneInProc:
		return p.parseDone(TokenType(b))
	case TokenError:
		return p.parseError()
	case TokenInfo:
		return p.parseInfo()
	case TokenEnvChange:
		return p.parseEnvChange()
	case TokenLoginAck:
		return p.parseLoginAck()
	case TokenReturnStatus:
		return p.parseReturnStatus()
	case TokenReturnValue:
		return p.parseReturnValue()
	case TokenOrder:
		return p.parseOrder()
	case TokenFeatureExtAck:
		return p.parseLengthPrefixedOpaque(FeatureExtAckToken{})
	case TokenFedAuthInfo:
		return p.parseUint32PrefixedOpaque(FedAuthInfoToken{})
	case TokenSSPI:
		return p.parseUint16PrefixedOpaque(SSPIToken{})
	case TokenColInfo:
		return p.parseColInfo()
	default:
		return nil, fmt.Errorf("tds: unknown token type 0x%02X", b)
	}
}

func (p *Parser) parseColMetadata() (ColMetadataToken, error) {
	count, err := p.r.Uint16LE()
	if err != nil {
		return ColMetadataToken{}, err
	}
	if count == 0xFFFF {
		// NoMetaData sentinel: a RPC reused prior COLMETADATA.
		return ColMetadataToken{Columns: p.columns}, nil
	}

	cols := make([]Column, count)
	for i := range cols {
		if _, err := p.r.Uint32LE(); err != nil { // UserType
			return ColMetadataToken{}, err
		}
		flags, err := p.r.Uint16LE()
		if err != nil {
			return ColMetadataToken{}, err
		}
		col, err := readTypeInfo(p.r)
		if err != nil {
			return ColMetadataToken{}, err
		}
		col.Flags = ColumnFlags(flags)
		if col.Flags&ColFlagNullable != 0 {
			col.Nullable = true
		}
		name, err := p.r.BVarChar()
		if err != nil {
			return ColMetadataToken{}, err
		}
		col.Name = name
		cols[i] = col
	}

	p.columns = cols
	return ColMetadataToken{Columns: cols}, nil
}

func (p *Parser) parseRow() (RowToken, error) {
	values := make([]interface{}, len(p.columns))
	for i, col := range p.columns {
		v, err := readColumnValue(p.r, col)
		if err != nil {
			return RowToken{}, fmt.Errorf("tds: row column %d (%s): %w", i, col.Name, err)
		}
		values[i] = v
	}
	return RowToken{Values: values}, nil
}

func (p *Parser) parseNBCRow() (RowToken, error) {
	bitmap, err := readNullBitmap(p.r, len(p.columns))
	if err != nil {
		return RowToken{}, err
	}
	values := make([]interface{}, len(p.columns))
	for i, col := range p.columns {
		if isNullInBitmap(bitmap, i) {
			values[i] = nil
			continue
		}
		v, err := readColumnValue(p.r, col)
		if err != nil {
			return RowToken{}, fmt.Errorf("tds: NBC row column %d (%s): %w", i, col.Name, err)
		}
		values[i] = v
	}
	return RowToken{Values: values}, nil
}

func (p *Parser) parseDone(kind TokenType) (DoneToken, error) {
	status, err := p.r.Uint16LE()
	if err != nil {
		return DoneToken{}, err
	}
	curCmd, err := p.r.Uint16LE()
	if err != nil {
		return DoneToken{}, err
	}
	rowCount, err := p.r.Uint64LE()
	if err != nil {
		return DoneToken{}, err
	}
	return DoneToken{Kind: kind, Status: status, CurCmd: curCmd, RowCount: rowCount}, nil
}

func (p *Parser) parseErrorLike() (ErrorToken, error) {
	if _, err := p.r.Uint16LE(); err != nil { // token length, unused: fields are self-describing
		return ErrorToken{}, err
	}
	number, err := p.r.Int32LE()
	if err != nil {
		return ErrorToken{}, err
	}
	state, err := p.r.Byte()
	if err != nil {
		return ErrorToken{}, err
	}
	class, err := p.r.Byte()
	if err != nil {
		return ErrorToken{}, err
	}
	message, err := p.r.UsVarChar()
	if err != nil {
		return ErrorToken{}, err
	}
	serverName, err := p.r.BVarChar()
	if err != nil {
		return ErrorToken{}, err
	}
	procName, err := p.r.BVarChar()
	if err != nil {
		return ErrorToken{}, err
	}
	lineNumber, err := p.r.Int32LE()
	if err != nil {
		return ErrorToken{}, err
	}
	return ErrorToken{
		Number: number, State: state, Class: class,
		Message: message, ServerName: serverName, ProcName: procName,
		LineNumber: lineNumber,
	}, nil
}

func (p *Parser) parseError() (ErrorToken, error) {
	return p.parseErrorLike()
}

func (p *Parser) parseInfo() (InfoToken, error) {
	e, err := p.parseErrorLike()
	return InfoToken(e), err
}

func (p *Parser) parseEnvChange() (EnvChangeToken, error) {
	tokenLen, err := p.r.Uint16LE()
	if err != nil {
		return EnvChangeToken{}, err
	}
	end := p.r.Pos() + int(tokenLen)

	envType, err := p.r.Byte()
	if err != nil {
		return EnvChangeToken{}, err
	}

	tok := EnvChangeToken{Type: envType}

	if envType == EnvSQLCollation {
		newLen, err := p.r.Byte()
		if err != nil {
			return tok, err
		}
		newColl, err := p.r.Raw(int(newLen))
		if err != nil {
			return tok, err
		}
		tok.NewCollation = append([]byte(nil), newColl...)

		oldLen, err := p.r.Byte()
		if err != nil {
			return tok, err
		}
		oldColl, err := p.r.Raw(int(oldLen))
		if err != nil {
			return tok, err
		}
		tok.OldCollation = append([]byte(nil), oldColl...)
	} else if envType == EnvBeginTran || envType == EnvCommitTran || envType == EnvRollbackTran || envType == EnvEnlistDTC {
		// Transaction ENVCHANGEs carry the transaction descriptor as a
		// raw binary blob, not a B_VARCHAR: BYTE length, then that many
		// raw bytes (8, for the descriptor MS-TDS actually sends). The
		// old-value side is a zero-length blob for BEGIN/COMMIT/ROLLBACK.
		newLen, err := p.r.Byte()
		if err != nil {
			return tok, err
		}
		newDesc, err := p.r.Raw(int(newLen))
		if err != nil {
			return tok, err
		}
		tok.NewDescriptor = append([]byte(nil), newDesc...)

		oldLen, err := p.r.Byte()
		if err != nil {
			return tok, err
		}
		oldDesc, err := p.r.Raw(int(oldLen))
		if err != nil {
			return tok, err
		}
		tok.OldDescriptor = append([]byte(nil), oldDesc...)
	} else if envType == EnvRouting {
		// ROUTING value encoding differs from the generic B_VARCHAR shape:
		// USHORT DataValueLen, BYTE Protocol, USHORT Port, USHORT AltServerLen, chars.
		if _, err := p.r.Uint16LE(); err != nil { // DataValueLength
			return tok, err
		}
		proto, err := p.r.Byte()
		if err != nil {
			return tok, err
		}
		port, err := p.r.Uint16LE()
		if err != nil {
			return tok, err
		}
		hostLen, err := p.r.Uint16LE()
		if err != nil {
			return tok, err
		}
		hostBytes, err := p.r.Raw(int(hostLen) * 2)
		if err != nil {
			return tok, err
		}
		tok.NewValue = fmt.Sprintf("routing:%d:%s:%d", proto, wire.UCS2ToString(hostBytes), port)
	} else {
		newVal, err := p.r.BVarChar()
		if err != nil {
			return tok, err
		}
		tok.NewValue = newVal
		oldVal, err := p.r.BVarChar()
		if err != nil {
			return tok, err
		}
		tok.OldValue = oldVal
	}

	// Be forgiving of vendor-specific extra fields within the declared
	// token length: reposition to the declared end rather than trusting
	// our own field-by-field accounting exactly.
	if cur := p.r.Pos(); cur != end {
		_ = p.r.Seek(end)
	}

	return tok, nil
}

func (p *Parser) parseLoginAck() (LoginAckToken, error) {
	if _, err := p.r.Uint16LE(); err != nil { // length
		return LoginAckToken{}, err
	}
	iface, err := p.r.Byte()
	if err != nil {
		return LoginAckToken{}, err
	}
	tdsVersion, err := p.r.Uint32BE()
	if err != nil {
		return LoginAckToken{}, err
	}
	progName, err := p.r.BVarChar()
	if err != nil {
		return LoginAckToken{}, err
	}
	progVersion, err := p.r.Uint32BE()
	if err != nil {
		return LoginAckToken{}, err
	}
	return LoginAckToken{
		Interface: iface, TDSVersion: tdsVersion,
		ProgName: progName, ProgVersion: progVersion,
	}, nil
}

func (p *Parser) parseReturnStatus() (ReturnStatusToken, error) {
	v, err := p.r.Int32LE()
	return ReturnStatusToken{Value: v}, err
}

func (p *Parser) parseReturnValue() (ReturnValueToken, error) {
	if _, err := p.r.Uint16LE(); err != nil { // length
		return ReturnValueToken{}, err
	}
	ordinal, err := p.r.Uint16LE()
	if err != nil {
		return ReturnValueToken{}, err
	}
	name, err := p.r.BVarChar()
	if err != nil {
		return ReturnValueToken{}, err
	}
	status, err := p.r.Byte()
	if err != nil {
		return ReturnValueToken{}, err
	}
	userType, err := p.r.Uint32LE()
	if err != nil {
		return ReturnValueToken{}, err
	}
	flags, err := p.r.Uint16LE()
	if err != nil {
		return ReturnValueToken{}, err
	}
	col, err := readTypeInfo(p.r)
	if err != nil {
		return ReturnValueToken{}, err
	}
	col.Flags = ColumnFlags(flags)
	col.Name = name

	value, err := readColumnValue(p.r, col)
	if err != nil {
		return ReturnValueToken{}, err
	}

	return ReturnValueToken{
		Ordinal: ordinal, Name: name, Status: status,
		UserType: userType, Column: col, Value: value,
	}, nil
}

func (p *Parser) parseOrder() (OrderToken, error) {
	tokenLen, err := p.r.Uint16LE()
	if err != nil {
		return OrderToken{}, err
	}
	count := int(tokenLen) / 2
	ordinals := make([]uint16, count)
	for i := range ordinals {
		v, err := p.r.Uint16LE()
		if err != nil {
			return OrderToken{}, err
		}
		ordinals[i] = v
	}
	return OrderToken{ColumnOrdinals: ordinals}, nil
}

func (p *Parser) parseColInfo() (interface{}, error) {
	tokenLen, err := p.r.Uint16LE()
	if err != nil {
		return nil, err
	}
	if _, err := p.r.Raw(int(tokenLen)); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (p *Parser) parseLengthPrefixedOpaque(tok FeatureExtAckToken) (FeatureExtAckToken, error) {
	// FEATUREEXTACK is a run of FeatureId(1)+DataLen(4)+Data until
	// FeatureId 0xFF (terminator); surfaced as opaque bytes to the caller.
	start := p.r.Pos()
	for {
		id, err := p.r.Byte()
		if err != nil {
			return tok, err
		}
		if id == 0xFF {
			break
		}
		dataLen, err := p.r.Uint32LE()
		if err != nil {
			return tok, err
		}
		if err := p.r.Skip(int(dataLen)); err != nil {
			return tok, err
		}
	}
	tok.Raw = append([]byte(nil), p.r.Slice(start, p.r.Pos())...)
	return tok, nil
}

func (p *Parser) parseUint32PrefixedOpaque(tok FedAuthInfoToken) (FedAuthInfoToken, error) {
	tokenLen, err := p.r.Uint32LE()
	if err != nil {
		return tok, err
	}
	raw, err := p.r.Raw(int(tokenLen))
	if err != nil {
		return tok, err
	}
	tok.Raw = append([]byte(nil), raw...)
	return tok, nil
}

func (p *Parser) parseUint16PrefixedOpaque(tok SSPIToken) (SSPIToken, error) {
	tokenLen, err := p.r.Uint16LE()
	if err != nil {
		return tok, err
	}
	raw, err := p.r.Raw(int(tokenLen))
	if err != nil {
		return tok, err
	}
	tok.Raw = append([]byte(nil), raw...)
	return tok, nil
}
