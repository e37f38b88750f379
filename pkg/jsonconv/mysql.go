// SPDX-License-Identifier: Apache-2.0

package jsonconv

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ColumnType carries the MySQL column type needed to disambiguate values
// that arrive from database/sql as the same Go type (e.g. DECIMAL and
// VARCHAR both scan as []byte) but must convert differently per §4.3.
type ColumnType string

const (
	ColTypeDecimal  ColumnType = "decimal"
	ColTypeDateTime ColumnType = "datetime"
	ColTypeTime     ColumnType = "time"
	ColTypeBinary   ColumnType = "binary"
	ColTypeJSON     ColumnType = "json"
	ColTypeDefault  ColumnType = ""
)

// TypedSourceRow is a SourceRow annotated with the originating column type,
// used only by the MySQL adapter since database/sql erases MySQL's wire
// type information for several families.
type TypedSourceRow struct {
	SourceRow
	ColumnTypes []ColumnType
}

// convertMySQLRow maps a plain MySQL/MariaDB row to JSON per §4.3 using
// Go-type-based inference only (no column type hints). This is what the
// pure, type-erased Convert entry point uses. Without type hints every
// []byte value becomes a plain string, so a BLOB is not rendered as a
// binary object and a DATETIME or TIME value cannot be told apart from
// plain TEXT. The MySQL adapter instead calls
// ConvertMySQLTyped, which carries the wire column type and handles that
// ambiguity precisely.
func convertMySQLRow(row SourceRow) (map[string]JsonValue, error) {
	return convertMySQLRowWithTypes(row, nil)
}

// ConvertMySQLTyped converts a MySQL/MariaDB row annotated with its wire
// column types (§4.3), which the MySQL adapter has available from
// information_schema.columns but a bare SourceRow does not.
func ConvertMySQLTyped(row TypedSourceRow) (JsonbRow, error) {
	data, err := convertMySQLRowWithTypes(row.SourceRow, row.ColumnTypes)
	if err != nil {
		return JsonbRow{}, err
	}
	out := JsonbRow{ID: deriveID(row.SourceRow), Data: data, SourceType: MySQL}
	if err := out.Validate(); err != nil {
		return JsonbRow{}, err
	}
	return out, nil
}

func convertMySQLRowWithTypes(row SourceRow, types []ColumnType) (map[string]JsonValue, error) {
	data := make(map[string]JsonValue, len(row.Columns))
	for i, col := range row.Columns {
		ct := ColTypeDefault
		if i < len(types) {
			ct = types[i]
		}
		v, err := convertMySQLValue(row.Values[i], ct)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		data[col] = v
	}
	return data, nil
}

func convertMySQLValue(v any, ct ColumnType) (JsonValue, error) {
	if v == nil {
		return nil, nil
	}

	switch ct {
	case ColTypeDecimal:
		return decimalString(v)
	case ColTypeDateTime:
		return datetimeValue(v)
	case ColTypeTime:
		return timeValue(v)
	case ColTypeBinary:
		return binaryValue(v)
	case ColTypeJSON:
		return jsonPassthrough(v)
	}

	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case uint64:
		return t, nil
	case float64:
		return floatToJSON(t), nil
	case float32:
		return floatToJSON(float64(t)), nil
	case bool:
		return t, nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case time.Time:
		return datetimeValue(t)
	default:
		return nil, fmt.Errorf("unsupported mysql value type %T", v)
	}
}

// decimalString preserves full precision for DECIMAL/NUMERIC columns by
// routing through shopspring/decimal rather than a lossy float conversion.
func decimalString(v any) (JsonValue, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case decimal.Decimal:
		return t.String(), nil
	case float64:
		return decimal.NewFromFloat(t).String(), nil
	default:
		return nil, fmt.Errorf("unsupported decimal value type %T", v)
	}
}

// datetimeValue renders DATE/DATETIME/TIMESTAMP as an ISO-8601 UTC string
// with microsecond precision per §4.3.
func datetimeValue(v any) (JsonValue, error) {
	t, err := asTime(v)
	if err != nil {
		return nil, err
	}
	return map[string]JsonValue{
		"_type": "datetime",
		"value": t.UTC().Format("2006-01-02T15:04:05.000000Z"),
	}, nil
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse("2006-01-02 15:04:05.999999", t)
		if err != nil {
			parsed, err = time.Parse("2006-01-02", t)
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing datetime %q: %w", t, err)
		}
		return parsed, nil
	case []byte:
		return asTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("unsupported datetime value type %T", v)
	}
}

// timeValue renders a MySQL TIME value (which may exceed 24h) as
// "Nd HH:MM:SS.uuuuuu" per §4.3.
func timeValue(v any) (JsonValue, error) {
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case []byte:
		raw = string(t)
	default:
		return nil, fmt.Errorf("unsupported time value type %T", v)
	}

	d, err := parseMySQLDuration(raw)
	if err != nil {
		return nil, err
	}

	days := int64(d / (24 * time.Hour))
	rem := d % (24 * time.Hour)
	hours := int64(rem / time.Hour)
	rem %= time.Hour
	minutes := int64(rem / time.Minute)
	rem %= time.Minute
	seconds := float64(rem) / float64(time.Second)

	return map[string]JsonValue{
		"_type": "time",
		"value": fmt.Sprintf("%dd %02d:%02d:%09.6f", days, hours, minutes, seconds),
	}, nil
}

// parseMySQLDuration parses MySQL's own TIME wire format, "[-]HH:MM:SS[.ffffff]".
func parseMySQLDuration(raw string) (time.Duration, error) {
	negative := false
	if len(raw) > 0 && raw[0] == '-' {
		negative = true
		raw = raw[1:]
	}

	var hours, minutes int
	var seconds float64
	if _, err := fmt.Sscanf(raw, "%d:%d:%f", &hours, &minutes, &seconds); err != nil {
		return 0, fmt.Errorf("parsing mysql TIME %q: %w", raw, err)
	}

	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	if negative {
		d = -d
	}
	return d, nil
}

// binaryValue renders BLOB/BINARY columns per §4.3.
func binaryValue(v any) (JsonValue, error) {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return nil, fmt.Errorf("unsupported binary value type %T", v)
	}
	return map[string]JsonValue{
		"_type": "binary",
		"data":  base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// jsonPassthrough decodes a MySQL JSON column's textual representation so
// it nests as structured JSON rather than an escaped string.
func jsonPassthrough(v any) (JsonValue, error) {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return nil, fmt.Errorf("unsupported json value type %T", v)
	}

	var decoded JsonValue
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding json column: %w", err)
	}
	return decoded, nil
}
