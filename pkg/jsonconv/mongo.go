// SPDX-License-Identifier: Apache-2.0

package jsonconv

import (
	"encoding/base64"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// convertMongoRow maps a BSON document (already flattened into
// SourceRow.Columns/Values by the MongoDB adapter) to JSON per §4.3.
func convertMongoRow(row SourceRow) (map[string]JsonValue, error) {
	data := make(map[string]JsonValue, len(row.Columns))
	for i, col := range row.Columns {
		v, err := convertBSONValue(row.Values[i])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", col, err)
		}
		data[col] = v
	}
	return data, nil
}

func convertBSONValue(v any) (JsonValue, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return floatToJSON(t), nil
	case bool:
		return t, nil
	case primitive.Undefined:
		return nil, nil
	case primitive.ObjectID:
		return map[string]JsonValue{
			"_type": "objectid",
			"$oid":  t.Hex(),
		}, nil
	case primitive.DateTime:
		return map[string]JsonValue{
			"_type": "datetime",
			"$date": int64(t),
		}, nil
	case primitive.Binary:
		return map[string]JsonValue{
			"_type":   "binary",
			"subtype": int(t.Subtype),
			"data":    base64.StdEncoding.EncodeToString(t.Data),
		}, nil
	case primitive.Decimal128:
		return t.String(), nil
	case primitive.Regex:
		return map[string]JsonValue{
			"_type":   "regex",
			"pattern": t.Pattern,
			"options": t.Options,
		}, nil
	case primitive.Timestamp:
		return map[string]JsonValue{
			"_type": "timestamp",
			"t":     t.T,
			"i":     t.I,
		}, nil
	case primitive.MinKey:
		return map[string]JsonValue{"_type": "minkey"}, nil
	case primitive.MaxKey:
		return map[string]JsonValue{"_type": "maxkey"}, nil
	case primitive.A:
		arr := make([]JsonValue, 0, len(t))
		for _, elem := range t {
			converted, err := convertBSONValue(elem)
			if err != nil {
				return nil, err
			}
			arr = append(arr, converted)
		}
		return arr, nil
	case primitive.M:
		return convertBSONMap(t)
	case bson.D:
		m := make(primitive.M, len(t))
		for _, elem := range t {
			m[elem.Key] = elem.Value
		}
		return convertBSONMap(m)
	case bson.Raw:
		var m primitive.M
		if err := bson.Unmarshal(t, &m); err != nil {
			return nil, fmt.Errorf("unmarshaling embedded document: %w", err)
		}
		return convertBSONMap(m)
	case []any:
		arr := make([]JsonValue, 0, len(t))
		for _, elem := range t {
			converted, err := convertBSONValue(elem)
			if err != nil {
				return nil, err
			}
			arr = append(arr, converted)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported bson value type %T", v)
	}
}

func convertBSONMap(m primitive.M) (map[string]JsonValue, error) {
	out := make(map[string]JsonValue, len(m))
	for k, v := range m {
		converted, err := convertBSONValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = converted
	}
	return out, nil
}
