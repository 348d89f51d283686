package tds

import (
	"fmt"
	"math/big"

	"github.com/golang-sql/civil"
	"github.com/ha1tch/gotds/internal/wire"
	"github.com/shopspring/decimal"
)

// readColumnValue reads one column value from r given its COLMETADATA
// Column description, returning a Go value from the driver's Value sum
// type: nil, bool, an integer type, float64 (REAL columns are widened
// to float64; float32 is never returned), decimal.Decimal,
// string, []byte, civil.Date, civil.Time, civil.DateTime, a
// DateTimeOffset, or a UUID string.
func readColumnValue(r *wire.Reader, col Column) (interface{}, error) {
	if col.IsPLP {
		data, isNull, err := readPLP(r)
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		switch col.Type {
		case TypeNVarChar, TypeNChar, TypeXML:
			return wire.UCS2ToString(data), nil
		case TypeBigVarChar, TypeBigChar:
			return string(data), nil
		default:
			return data, nil
		}
	}

	switch col.Type {
	case TypeNull:
		return nil, nil

	case TypeInt1:
		b, err := r.Byte()
		return int64(b), err

	case TypeBit:
		b, err := r.Byte()
		return b != 0, err

	case TypeInt2:
		v, err := r.Int16LE()
		return int64(v), err

	case TypeInt4:
		v, err := r.Int32LE()
		return int64(v), err

	case TypeInt8:
		v, err := r.Int64LE()
		return v, err

	case TypeFloat4:
		v, err := r.Float32LE()
		return float64(v), err

	case TypeFloat8:
		return r.Float64LE()

	case TypeDateTime4:
		return readSmallDateTime(r)

	case TypeDateTime:
		return readDateTime(r)

	case TypeMoney4:
		v, err := r.Int32LE()
		return decimal.New(int64(v), -4), err

	case TypeMoney:
		return readMoney8(r)

	case TypeIntN:
		return readIntN(r, col.Length)

	case TypeBitN:
		return readBitN(r)

	case TypeFloatN:
		return readFloatN(r, col.Length)

	case TypeMoneyN:
		return readMoneyN(r, col.Length)

	case TypeDateTimeN:
		return readDateTimeN(r, col.Length)

	case TypeDateN:
		return readDateN(r)

	case TypeTimeN:
		return readTimeN(r, col.Scale)

	case TypeDateTime2N:
		return readDateTime2N(r, col.Scale)

	case TypeDateTimeOffsetN:
		return readDateTimeOffsetN(r, col.Scale)

	case TypeGUID:
		return readGUID(r)

	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		return readDecimalN(r, col.Precision, col.Scale)

	case TypeChar, TypeVarChar:
		// Legacy BYTELEN_TYPE encoding: like TypeBinary/TypeVarBinary, a
		// single length byte precedes the data, with 0xFF marking NULL.
		// Modern servers (2005+) always negotiate TypeBigChar/TypeBigVarChar
		// instead, but a server still emitting this legacy type must be
		// decoded the same way it's framed on the wire.
		n, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0xFF {
			return nil, nil
		}
		data, err := r.Raw(int(n))
		if err != nil {
			return nil, err
		}
		return string(data), nil

	case TypeBinary, TypeVarBinary:
		n, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if n == 0xFF {
			return nil, nil
		}
		return r.Raw(int(n))

	case TypeBigChar, TypeBigVarChar:
		n, err := r.Uint16LE()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		data, err := r.Raw(int(n))
		if err != nil {
			return nil, err
		}
		return string(data), nil

	case TypeNChar, TypeNVarChar:
		n, err := r.Uint16LE()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		data, err := r.Raw(int(n))
		if err != nil {
			return nil, err
		}
		return wire.UCS2ToString(data), nil

	case TypeBigBinary, TypeBigVarBin:
		n, err := r.Uint16LE()
		if err != nil {
			return nil, err
		}
		if n == 0xFFFF {
			return nil, nil
		}
		return r.Raw(int(n))

	case TypeSSVariant:
		return readSQLVariant(r)

	default:
		return nil, fmt.Errorf("tds: no value decoder for type 0x%02X", byte(col.Type))
	}
}

func readIntN(r *wire.Reader, n int) (interface{}, error) {
	size, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	switch size {
	case 1:
		b, err := r.Byte()
		return int64(b), err
	case 2:
		v, err := r.Int16LE()
		return int64(v), err
	case 4:
		v, err := r.Int32LE()
		return int64(v), err
	case 8:
		return r.Int64LE()
	default:
		return nil, fmt.Errorf("tds: invalid INTN size %d", size)
	}
}

func readBitN(r *wire.Reader) (interface{}, error) {
	size, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	b, err := r.Byte()
	return b != 0, err
}

func readFloatN(r *wire.Reader, n int) (interface{}, error) {
	size, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size == 4 {
		v, err := r.Float32LE()
		return float64(v), err
	}
	return r.Float64LE()
}

func readMoney8(r *wire.Reader) (interface{}, error) {
	hi, err := r.Int32LE()
	if err != nil {
		return nil, err
	}
	lo, err := r.Uint32LE()
	if err != nil {
		return nil, err
	}
	v := int64(hi)<<32 | int64(lo)
	return decimal.New(v, -4), nil
}

func readMoneyN(r *wire.Reader, n int) (interface{}, error) {
	size, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size == 4 {
		v, err := r.Int32LE()
		return decimal.New(int64(v), -4), err
	}
	return readMoney8(r)
}

func readSmallDateTime(r *wire.Reader) (interface{}, error) {
	days, err := r.Uint16LE()
	if err != nil {
		return nil, err
	}
	minutes, err := r.Uint16LE()
	if err != nil {
		return nil, err
	}
	return civilDateTimeFromSQLBase(int(days), int(minutes)*60, 0), nil
}

func readDateTime(r *wire.Reader) (interface{}, error) {
	days, err := r.Int32LE()
	if err != nil {
		return nil, err
	}
	ticks, err := r.Uint32LE()
	if err != nil {
		return nil, err
	}
	// ticks are in 1/300th-second units
	seconds := int(ticks) / 300
	nanos := (int(ticks) % 300) * (1000000000 / 300)
	return civilDateTimeFromSQLBase(int(days), seconds, nanos), nil
}

func readDateTimeN(r *wire.Reader, n int) (interface{}, error) {
	size, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size == 4 {
		return readSmallDateTime(r)
	}
	return readDateTime(r)
}

func readDateN(r *wire.Reader) (interface{}, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	raw, err := r.Raw(3)
	if err != nil {
		return nil, err
	}
	days := int(raw[0]) | int(raw[1])<<8 | int(raw[2])<<16
	return civilDateFromDays(days), nil
}

func readTimeN(r *wire.Reader, scale byte) (interface{}, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	raw, err := r.Raw(int(n))
	if err != nil {
		return nil, err
	}
	var ticks uint64
	for i := len(raw) - 1; i >= 0; i-- {
		ticks = ticks<<8 | uint64(raw[i])
	}
	return civilTimeFromTicks(ticks, scale), nil
}

func readDateTime2N(r *wire.Reader, scale byte) (interface{}, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	timeLen := int(n) - 3
	raw, err := r.Raw(timeLen)
	if err != nil {
		return nil, err
	}
	dateRaw, err := r.Raw(3)
	if err != nil {
		return nil, err
	}
	var ticks uint64
	for i := len(raw) - 1; i >= 0; i-- {
		ticks = ticks<<8 | uint64(raw[i])
	}
	days := int(dateRaw[0]) | int(dateRaw[1])<<8 | int(dateRaw[2])<<16
	return civil.DateTime{
		Date: civilDateFromDays(days),
		Time: civilTimeFromTicks(ticks, scale),
	}, nil
}

// DateTimeOffset is DATETIMEOFFSET(n): a civil date+time plus an offset
// in minutes from UTC, kept separate since civil has no offset type.
type DateTimeOffset struct {
	civil.DateTime
	OffsetMinutes int16
}

func readDateTimeOffsetN(r *wire.Reader, scale byte) (interface{}, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	timeLen := int(n) - 5
	raw, err := r.Raw(timeLen)
	if err != nil {
		return nil, err
	}
	dateRaw, err := r.Raw(3)
	if err != nil {
		return nil, err
	}
	offset, err := r.Int16LE()
	if err != nil {
		return nil, err
	}
	var ticks uint64
	for i := len(raw) - 1; i >= 0; i-- {
		ticks = ticks<<8 | uint64(raw[i])
	}
	days := int(dateRaw[0]) | int(dateRaw[1])<<8 | int(dateRaw[2])<<16
	return DateTimeOffset{
		DateTime: civil.DateTime{
			Date: civilDateFromDays(days),
			Time: civilTimeFromTicks(ticks, scale),
		},
		OffsetMinutes: offset,
	}, nil
}

func readGUID(r *wire.Reader) (interface{}, error) {
	n, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	raw, err := r.Raw(int(n))
	if err != nil {
		return nil, err
	}
	return formatGUID(raw), nil
}

// formatGUID renders a 16-byte SQL Server GUID (mixed-endian) as a
// standard hyphenated UUID string.
func formatGUID(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15])
}

func readDecimalN(r *wire.Reader, precision, scale byte) (interface{}, error) {
	length, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	sign, err := r.Byte()
	if err != nil {
		return nil, err
	}
	raw, err := r.Raw(int(length) - 1)
	if err != nil {
		return nil, err
	}

	mag := new(big.Int)
	tmp := new(big.Int)
	for i := len(raw) - 1; i >= 0; i-- {
		tmp.SetUint64(uint64(raw[i]))
		tmp.Lsh(tmp, uint(8*i))
		mag.Add(mag, tmp)
	}
	if sign == 0 {
		mag.Neg(mag)
	}

	return decimal.NewFromBigInt(mag, -int32(scale)), nil
}

// readSQLVariant reads a SQL_VARIANT value, decoding its inner
// TYPE_INFO/value pair and discarding the variant wrapper.
func readSQLVariant(r *wire.Reader) (interface{}, error) {
	totalLen, err := r.Uint32LE()
	if err != nil {
		return nil, err
	}
	if totalLen == 0 {
		return nil, nil
	}
	typeByte, err := r.Byte()
	if err != nil {
		return nil, err
	}
	propLen, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(int(propLen)); err != nil {
		return nil, err
	}

	col := Column{Type: SQLType(typeByte)}
	valLen := int(totalLen) - 2 - int(propLen)
	switch col.Type {
	case TypeInt1, TypeBit, TypeInt2, TypeInt4, TypeInt8, TypeFloat4, TypeFloat8,
		TypeMoney, TypeMoney4, TypeDateTime, TypeDateTime4:
		return readColumnValue(r, col)
	default:
		// fall back to raw bytes for variant subtypes this driver does not
		// interpret structurally (e.g. variant-wrapped DECIMAL/GUID/binary)
		return r.Raw(valLen)
	}
}
