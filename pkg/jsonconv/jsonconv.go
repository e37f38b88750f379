// SPDX-License-Identifier: Apache-2.0

// Package jsonconv converts rows and documents from SQLite, MongoDB and
// MySQL/MariaDB sources into the canonical JsonbRow document model written
// to the target's JSONB table. For a row with an id, _id or rowid column,
// conversion is a pure function of its input: the same SourceRow always
// produces the same JsonbRow. A row without one takes its id from a
// process-wide counter (see deriveID), so converting it twice yields two
// different ids.
package jsonconv

import (
	"fmt"
	"time"
)

// SourceKind tags which conversion table a SourceRow came from.
type SourceKind string

const (
	SQLite  SourceKind = "sqlite"
	MongoDB SourceKind = "mongodb"
	MySQL   SourceKind = "mysql"
)

// SourceRow is a generic, order-preserving row or document. Columns holds
// names in source order; Values holds the corresponding driver-native
// values (database/sql scan targets for SQLite/MySQL, the element values
// of a document decoded into bson.D for MongoDB).
type SourceRow struct {
	Columns []string
	Values  []any
}

// JsonValue is any value representable in the target's `data` JSONB column.
type JsonValue = any

// JsonbRow is a row destined for the JSONB target schema (§3).
type JsonbRow struct {
	ID         string
	Data       JsonValue
	SourceType SourceKind
	MigratedAt time.Time
}

// Validate checks the four-field shape invariant tested in §8: id is a
// non-empty string and source type is known.
func (r JsonbRow) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("jsonb row id must not be empty")
	}
	switch r.SourceType {
	case SQLite, MongoDB, MySQL:
	default:
		return fmt.Errorf("unknown source type %q", r.SourceType)
	}
	return nil
}

// Convert maps a SourceRow to a JsonbRow using the rules for kind (§4.3 of
// the specification). MigratedAt is left zero; callers stamp it at write
// time so that Convert itself stays referentially transparent (no implicit
// now()).
func Convert(row SourceRow, kind SourceKind) (JsonbRow, error) {
	var data map[string]JsonValue
	var err error

	switch kind {
	case SQLite:
		data, err = convertSQLiteRow(row)
	case MongoDB:
		data, err = convertMongoRow(row)
	case MySQL:
		data, err = convertMySQLRow(row)
	default:
		return JsonbRow{}, fmt.Errorf("jsonconv: unknown source kind %q", kind)
	}
	if err != nil {
		return JsonbRow{}, err
	}

	id := deriveID(row)

	out := JsonbRow{ID: id, Data: data, SourceType: kind}
	if err := out.Validate(); err != nil {
		return JsonbRow{}, err
	}
	return out, nil
}
