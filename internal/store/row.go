package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one record keyed by column name.
type Row map[string]any

// Lookup returns the first non-nil value among keys, in order. Keys model the
// historical names a single logical column has had.
func (r Row) Lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first present key as a trimmed string.
func (r Row) String(keys ...string) string {
	v, ok := r.Lookup(keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case []byte:
		return strings.TrimSpace(string(s))
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Decimal returns the first present key as a decimal. A missing or null
// column yields an invalid NullDecimal and no error.
func (r Row) Decimal(keys ...string) (decimal.NullDecimal, error) {
	v, ok := r.Lookup(keys...)
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	d, err := ToDecimal(v)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("column %v: %w", keys, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// Time returns the first present key as a time. Strings are accepted in
// RFC 3339 or plain date form.
func (r Row) Time(keys ...string) (time.Time, error) {
	v, ok := r.Lookup(keys...)
	if !ok {
		return time.Time{}, nil
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("column %v: unparseable time %q", keys, t)
	}
	return time.Time{}, fmt.Errorf("column %v: unsupported time value %T", keys, v)
}

// ToDecimal converts the numeric shapes drivers hand back into a decimal.
func ToDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case *big.Rat:
		return decimal.NewFromString(n.FloatString(9))
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	}
	return decimal.Decimal{}, fmt.Errorf("unsupported numeric value %T", v)
}
