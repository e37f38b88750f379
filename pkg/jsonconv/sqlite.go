// SPDX-License-Identifier: Apache-2.0

package jsonconv

import (
	"encoding/base64"
	"fmt"
	"math"
)

// convertSQLiteRow maps SQLite storage classes to JSON per §4.3: INTEGER
// and REAL become numbers (non-finite REAL becomes the strings "NaN",
// "Infinity", "-Infinity"), TEXT becomes a string, NULL becomes nil, and
// BLOB becomes {_type: "blob", data: base64}.
func convertSQLiteRow(row SourceRow) (map[string]JsonValue, error) {
	data := make(map[string]JsonValue, len(row.Columns))
	for i, col := range row.Columns {
		v, err := convertSQLiteValue(row.Values[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		data[col] = v
	}
	return data, nil
}

func convertSQLiteValue(v any) (JsonValue, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return floatToJSON(t), nil
	case float32:
		return floatToJSON(float64(t)), nil
	case string:
		return t, nil
	case []byte:
		return map[string]JsonValue{
			"_type": "blob",
			"data":  base64.StdEncoding.EncodeToString(t),
		}, nil
	case bool:
		// SQLite has no native boolean type; drivers may surface INTEGER
		// affinity columns as bool when a Go struct hints it.
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported sqlite value type %T", v)
	}
}

func floatToJSON(f float64) JsonValue {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}
