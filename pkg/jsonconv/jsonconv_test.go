// SPDX-License-Identifier: Apache-2.0

package jsonconv

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestConvertDeterministic(t *testing.T) {
	row := SourceRow{Columns: []string{"id", "name"}, Values: []any{int64(1), "Alice"}}

	a, err := Convert(row, SQLite)
	require.NoError(t, err)
	b, err := Convert(row, SQLite)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NoError(t, a.Validate())
}

func TestConvertSQLiteRow(t *testing.T) {
	row := SourceRow{
		Columns: []string{"id", "name", "avatar"},
		Values:  []any{int64(1), "Alice", []byte{0x48, 0x69}},
	}

	out, err := Convert(row, SQLite)
	require.NoError(t, err)

	assert.Equal(t, "1", out.ID)
	data := out.Data.(map[string]JsonValue)
	assert.Equal(t, int64(1), data["id"])
	assert.Equal(t, "Alice", data["name"])
	assert.Equal(t, map[string]JsonValue{"_type": "blob", "data": "SGk="}, data["avatar"])
}

func TestConvertSQLiteNullAvatar(t *testing.T) {
	row := SourceRow{Columns: []string{"id", "name", "avatar"}, Values: []any{int64(2), "Bob", nil}}

	out, err := Convert(row, SQLite)
	require.NoError(t, err)

	assert.Equal(t, "2", out.ID)
	data := out.Data.(map[string]JsonValue)
	assert.Nil(t, data["avatar"])
}

func TestConvertSQLiteNonFiniteFloats(t *testing.T) {
	row := SourceRow{Columns: []string{"id", "v"}, Values: []any{int64(1), math.NaN()}}
	out, err := Convert(row, SQLite)
	require.NoError(t, err)
	assert.Equal(t, "NaN", out.Data.(map[string]JsonValue)["v"])

	row.Values[1] = math.Inf(1)
	out, err = Convert(row, SQLite)
	require.NoError(t, err)
	assert.Equal(t, "Infinity", out.Data.(map[string]JsonValue)["v"])
}

func TestConvertMongoObjectIDAndDatetime(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("507f1f77bcf86cd799439011")
	require.NoError(t, err)

	created := time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC)
	row := SourceRow{
		Columns: []string{"_id", "age", "created"},
		Values:  []any{oid, int32(30), primitive.NewDateTimeFromTime(created)},
	}

	out, err := Convert(row, MongoDB)
	require.NoError(t, err)

	assert.Equal(t, "507f1f77bcf86cd799439011", out.ID)
	data := out.Data.(map[string]JsonValue)
	assert.Equal(t, map[string]JsonValue{"_type": "objectid", "$oid": "507f1f77bcf86cd799439011"}, data["_id"])
	assert.Equal(t, int64(30), data["age"])
	assert.Equal(t, map[string]JsonValue{"_type": "datetime", "$date": int64(1678838400000)}, data["created"])
}

func TestConvertMySQLDecimalAndDatetime(t *testing.T) {
	created, err := time.Parse("2006-01-02 15:04:05.999999", "2024-01-15 10:30:45.123456")
	require.NoError(t, err)

	row := TypedSourceRow{
		SourceRow: SourceRow{
			Columns: []string{"id", "name", "balance", "created_at"},
			Values:  []any{int64(1), "Alice", []byte("100.50"), created},
		},
		ColumnTypes: []ColumnType{ColTypeDefault, ColTypeDefault, ColTypeDecimal, ColTypeDateTime},
	}

	out, err := ConvertMySQLTyped(row)
	require.NoError(t, err)

	assert.Equal(t, "1", out.ID)
	data := out.Data.(map[string]JsonValue)
	assert.Equal(t, "100.50", data["balance"])
	assert.Equal(t, map[string]JsonValue{"_type": "datetime", "value": "2024-01-15T10:30:45.123456Z"}, data["created_at"])
}

func TestConvertMySQLBinary(t *testing.T) {
	row := TypedSourceRow{
		SourceRow:   SourceRow{Columns: []string{"id", "blob"}, Values: []any{int64(1), []byte{0xDE, 0xAD}}},
		ColumnTypes: []ColumnType{ColTypeDefault, ColTypeBinary},
	}

	out, err := ConvertMySQLTyped(row)
	require.NoError(t, err)

	data := out.Data.(map[string]JsonValue)
	assert.Equal(t, map[string]JsonValue{"_type": "binary", "data": "3q0="}, data["blob"])
}

func TestDeriveIDFallsBackToRowNumber(t *testing.T) {
	row := SourceRow{Columns: []string{"name"}, Values: []any{"no id column"}}
	out, err := Convert(row, SQLite)
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
}

func TestJsonbRowValidateRejectsEmptyID(t *testing.T) {
	row := JsonbRow{ID: "", Data: map[string]JsonValue{}, SourceType: SQLite}
	assert.Error(t, row.Validate())
}
