package tds

import (
	"fmt"
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// The toXxx helpers below coerce an RPC parameter's Go value into the
// concrete type writeParamValue expects for its column's SQLType. They
// accept both the idiomatic Go type (int, float64, string, bool, time.Time)
// and the driver's own richer types (decimal.Decimal, civil.Date,
// civil.DateTime; civil.Time is not accepted) so callers can pass either without a conversion step of
// their own.

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return int64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	default:
		return 0
	}
}

func toBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func toDecimal(v interface{}) decimal.Decimal {
	switch t := v.(type) {
	case decimal.Decimal:
		return t
	case float64:
		return decimal.NewFromFloat(t)
	case float32:
		return decimal.NewFromFloat32(t)
	case int64:
		return decimal.NewFromInt(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func toStringVal(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toBytesVal(v interface{}) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}

func toCivilDate(v interface{}) civil.Date {
	switch t := v.(type) {
	case civil.Date:
		return t
	case civil.DateTime:
		return t.Date
	case time.Time:
		return civil.DateOf(t)
	case string:
		d, err := civil.ParseDate(t)
		if err == nil {
			return d
		}
		return civil.Date{}
	default:
		return civil.Date{}
	}
}
