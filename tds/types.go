package tds

import (
	"fmt"

	"github.com/ha1tch/gotds/internal/wire"
)

// SQLType is the TDS wire type byte from TYPE_INFO.
type SQLType byte

const (
	TypeNull    SQLType = 0x1F
	TypeInt1    SQLType = 0x30
	TypeBit     SQLType = 0x32
	TypeInt2    SQLType = 0x34
	TypeInt4    SQLType = 0x38
	TypeDateTime4 SQLType = 0x3A
	TypeFloat4  SQLType = 0x3B
	TypeMoney   SQLType = 0x3C
	TypeDateTime SQLType = 0x3D
	TypeFloat8  SQLType = 0x3E
	TypeMoney4  SQLType = 0x7A
	TypeInt8    SQLType = 0x7F

	TypeGUID    SQLType = 0x24
	TypeIntN    SQLType = 0x26
	TypeDecimal SQLType = 0x37
	TypeNumeric SQLType = 0x3F
	TypeBitN    SQLType = 0x68
	TypeDecimalN SQLType = 0x6A
	TypeNumericN SQLType = 0x6C
	TypeFloatN  SQLType = 0x6D
	TypeMoneyN  SQLType = 0x6E
	TypeDateTimeN SQLType = 0x6F

	TypeDateN           SQLType = 0x28
	TypeTimeN           SQLType = 0x29
	TypeDateTime2N      SQLType = 0x2A
	TypeDateTimeOffsetN SQLType = 0x2B

	TypeChar     SQLType = 0x2F
	TypeVarChar  SQLType = 0x27
	TypeBinary   SQLType = 0x2D
	TypeVarBinary SQLType = 0x25

	TypeBigVarBin  SQLType = 0xA5
	TypeBigVarChar SQLType = 0xA7
	TypeBigBinary  SQLType = 0xAD
	TypeBigChar    SQLType = 0xAF
	TypeNVarChar   SQLType = 0xE7
	TypeNChar      SQLType = 0xEF

	TypeXML SQLType = 0xF1
	TypeUDT SQLType = 0xF0

	TypeText  SQLType = 0x23
	TypeImage SQLType = 0x22
	TypeNText SQLType = 0x63

	TypeSSVariant SQLType = 0x62
)

// ColumnFlags are the COLMETADATA per-column flag bits.
type ColumnFlags uint16

const (
	ColFlagNullable     ColumnFlags = 0x0001
	ColFlagCaseSen      ColumnFlags = 0x0002
	ColFlagUpdateable   ColumnFlags = 0x000C
	ColFlagIdentity     ColumnFlags = 0x0010
	ColFlagComputed     ColumnFlags = 0x0020
	ColFlagFixedLenCLR  ColumnFlags = 0x0400
	ColFlagHidden       ColumnFlags = 0x2000
	ColFlagKey          ColumnFlags = 0x4000
	ColFlagNullableUnkn ColumnFlags = 0x8000
)

// Column describes one result-set column as reported by COLMETADATA.
type Column struct {
	Name       string
	Type       SQLType
	UserType   uint32
	Flags      ColumnFlags
	Nullable   bool
	Length     int // declared max length, in bytes unless noted
	Precision  byte
	Scale      byte
	Collation  Collation
	IsLarge    bool // BIG* variants, length prefix is a uint16
	IsPLP      bool // MAX types use PLP chunked encoding
	TableName  string
}

// readTypeInfo reads one TYPE_INFO block (as it appears in COLMETADATA
// and in RETURNVALUE) and the fields of Column it determines.
func readTypeInfo(r *wire.Reader) (Column, error) {
	var col Column

	b, err := r.Byte()
	if err != nil {
		return col, err
	}
	col.Type = SQLType(b)

	switch col.Type {
	case TypeNull, TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8,
		TypeFloat4, TypeFloat8, TypeMoney, TypeMoney4,
		TypeDateTime, TypeDateTime4:
		// fixed-length, no additional TYPE_INFO

	case TypeIntN, TypeBitN, TypeFloatN, TypeMoneyN, TypeDateTimeN:
		n, err := r.Byte()
		if err != nil {
			return col, err
		}
		col.Length = int(n)

	case TypeDateN:
		// no additional info

	case TypeTimeN, TypeDateTime2N, TypeDateTimeOffsetN:
		scale, err := r.Byte()
		if err != nil {
			return col, err
		}
		col.Scale = scale

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		n, err := r.Byte()
		if err != nil {
			return col, err
		}
		col.Length = int(n)
		if col.Precision, err = r.Byte(); err != nil {
			return col, err
		}
		if col.Scale, err = r.Byte(); err != nil {
			return col, err
		}

	case TypeGUID:
		n, err := r.Byte()
		if err != nil {
			return col, err
		}
		col.Length = int(n)

	case TypeChar, TypeVarChar, TypeBinary, TypeVarBinary:
		n, err := r.Byte()
		if err != nil {
			return col, err
		}
		col.Length = int(n)
		if col.Type == TypeChar || col.Type == TypeVarChar {
			coll, err := readCollation(r)
			if err != nil {
				return col, err
			}
			col.Collation = coll
		}

	case TypeBigVarChar, TypeBigChar, TypeBigVarBin, TypeBigBinary:
		col.IsLarge = true
		n, err := r.Uint16LE()
		if err != nil {
			return col, err
		}
		col.Length = int(n)
		if col.Length == 0xFFFF {
			col.IsPLP = true // VARCHAR(MAX)/VARBINARY(MAX)
		}
		if col.Type == TypeBigVarChar || col.Type == TypeBigChar {
			coll, err := readCollation(r)
			if err != nil {
				return col, err
			}
			col.Collation = coll
		}

	case TypeNVarChar, TypeNChar:
		col.IsLarge = true
		n, err := r.Uint16LE()
		if err != nil {
			return col, err
		}
		col.Length = int(n)
		if col.Length == 0xFFFF {
			col.IsPLP = true // NVARCHAR(MAX)
		}
		coll, err := readCollation(r)
		if err != nil {
			return col, err
		}
		col.Collation = coll

	case TypeXML:
		col.IsPLP = true
		// XMLTYPE_INFO: 1 byte schema-present flag, optional schema names
		hasSchema, err := r.Byte()
		if err != nil {
			return col, err
		}
		if hasSchema != 0 {
			if _, err := r.BVarChar(); err != nil { // dbname
				return col, err
			}
			if _, err := r.BVarChar(); err != nil { // owning schema
				return col, err
			}
			if _, err := r.UsVarChar(); err != nil { // schema collection
				return col, err
			}
		}

	case TypeText, TypeNText, TypeImage:
		n, err := r.Uint32LE()
		if err != nil {
			return col, err
		}
		col.Length = int(n)
		if col.Type == TypeText || col.Type == TypeNText {
			coll, err := readCollation(r)
			if err != nil {
				return col, err
			}
			col.Collation = coll
		}
		// TABLENAME for TEXT/NTEXT/IMAGE
		numParts, err := r.Byte()
		if err != nil {
			return col, err
		}
		for i := byte(0); i < numParts; i++ {
			part, err := r.UsVarChar()
			if err != nil {
				return col, err
			}
			col.TableName = part
		}

	case TypeUDT:
		col.IsPLP = true
		if _, err := r.Uint16LE(); err != nil { // MAX_BYTE_SIZE
			return col, err
		}
		if _, err := r.BVarChar(); err != nil { // DBName
			return col, err
		}
		if _, err := r.BVarChar(); err != nil { // SchemaName
			return col, err
		}
		if _, err := r.BVarChar(); err != nil { // TypeName
			return col, err
		}
		if _, err := r.UsVarChar(); err != nil { // AssemblyQualifiedName
			return col, err
		}

	case TypeSSVariant:
		n, err := r.Uint32LE()
		if err != nil {
			return col, err
		}
		col.Length = int(n)

	default:
		return col, fmt.Errorf("tds: unsupported column type 0x%02X", byte(col.Type))
	}

	col.Nullable = col.Flags&ColFlagNullable != 0 ||
		col.Type == TypeIntN || col.Type == TypeBitN || col.Type == TypeFloatN ||
		col.Type == TypeMoneyN || col.Type == TypeDateTimeN || col.Type == TypeGUID ||
		col.Type == TypeDecimalN || col.Type == TypeNumericN || col.Type == TypeDateN ||
		col.Type == TypeTimeN || col.Type == TypeDateTime2N || col.Type == TypeDateTimeOffsetN ||
		col.IsLarge || col.IsPLP

	return col, nil
}

func readCollation(r *wire.Reader) (Collation, error) {
	var c Collation
	raw, err := r.Raw(5)
	if err != nil {
		return c, err
	}
	copy(c[:], raw)
	return c, nil
}
