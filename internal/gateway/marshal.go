package gateway

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	duckdb "github.com/duckdb/duckdb-go/v2"
)

// ToTransport converts one database-native scalar into a transport-safe value
// (string, number, bool or nil). Every type the executor can emit has a
// defined mapping here; anything else fails with a marshal error so a result
// is never silently truncated or corrupted.
//
// Dates and timestamps become ISO-8601 text in UTC: a bare date when the
// clock part is zero, RFC 3339 otherwise. Fixed-point values become text
// rendered at the column's declared scale (1250.00 stays "1250.00"). Large
// text/binary objects arrive fully read as []byte and become strings. NULL
// stays nil and is emitted explicitly, never dropped.
func ToTransport(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case []byte:
		return string(val), nil
	case time.Time:
		return formatTime(val), nil
	case duckdb.Decimal:
		// Decimal.String trims trailing zeros, so format the raw integer
		// value at the declared scale instead.
		return formatDecimal(val.Value, val.Scale), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return nil, newMarshalError(fmt.Sprintf("no transport mapping for value of type %T", v))
	}
}

// FromTransport maps a tool-call argument to its native form. Arguments are
// already transport-safe scalars on the read path, so this is the identity.
func FromTransport(v any) any {
	return v
}

// formatDecimal renders an unscaled integer value at a fixed scale, keeping
// every fractional digit the column declares.
func formatDecimal(v *big.Int, scale uint8) string {
	if v == nil {
		v = new(big.Int)
	}
	digits := new(big.Int).Abs(v).String()
	if pad := int(scale) + 1 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	if scale > 0 {
		cut := len(digits) - int(scale)
		digits = digits[:cut] + "." + digits[cut:]
	}
	if v.Sign() < 0 {
		digits = "-" + digits
	}
	return digits
}

func formatTime(t time.Time) string {
	t = t.UTC()
	if h, m, s := t.Clock(); h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339Nano)
}
