package verify

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jackc/pgx/v5/pgtype"
)

// columnAliases maps the field names mission planners use to the column
// names the application schema uses. A field without an alias is assumed to
// already be a column name.
var columnAliases = map[string]string{
	"item_name":        "name",
	"item_description": "description",
}

func columnFor(field string) string {
	if col, ok := columnAliases[field]; ok {
		return col
	}
	return field
}

// approxFloats tolerates the drift numeric values pick up crossing JSON,
// HTTP, and SQL representations: relative tolerance 1e-6 with an absolute
// floor of 1e-9.
var approxFloats = cmpopts.EquateApprox(1e-6, 1e-9)

// valuesMatch reports whether an observed value satisfies an expected one.
// Pairs that both coerce to numbers compare with the epsilon; everything
// else compares by canonical string form, which lets a text column holding
// "42" satisfy the number 42.
func valuesMatch(expected, actual interface{}) bool {
	if expected == nil {
		return actual == nil
	}
	ef, eok := toFloat(expected)
	af, aok := toFloat(actual)
	if eok && aok {
		return cmp.Equal(ef, af, approxFloats)
	}
	return stringForm(expected) == stringForm(actual)
}

// toFloat coerces the numeric types JSON decoding and pgx row scanning
// produce. Strings are deliberately not coerced: "1e3" names a selector, not
// a thousand.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	default:
		return 0, false
	}
}

// stringForm renders a value the way it would appear on a page or in a log:
// floats without a trailing ".0", bytes as text.
func stringForm(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
