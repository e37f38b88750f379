// SPDX-License-Identifier: Apache-2.0

package scope

import (
	"fmt"
	"regexp"
	"strings"
)

// QualifiedTable identifies a table within an optional database and schema.
// Schema defaults to "public" when unspecified. Equality is case-sensitive.
type QualifiedTable struct {
	Database string
	Schema   string
	Table    string
}

// NewQualifiedTable builds a QualifiedTable, defaulting Schema to "public".
func NewQualifiedTable(database, schemaName, table string) QualifiedTable {
	if schemaName == "" {
		schemaName = "public"
	}
	return QualifiedTable{Database: database, Schema: schemaName, Table: table}
}

// String renders the table as database.schema.table, omitting empty parts.
func (t QualifiedTable) String() string {
	var b strings.Builder
	if t.Database != "" {
		b.WriteString(t.Database)
		b.WriteByte('.')
	}
	b.WriteString(t.Schema)
	b.WriteByte('.')
	b.WriteString(t.Table)
	return b.String()
}

// Less orders QualifiedTable by (database, schema, table), used to keep scope
// iteration and fingerprinting deterministic.
func (t QualifiedTable) Less(other QualifiedTable) bool {
	if t.Database != other.Database {
		return t.Database < other.Database
	}
	if t.Schema != other.Schema {
		return t.Schema < other.Schema
	}
	return t.Table < other.Table
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedWords is the subset of the SQL standard/PostgreSQL reserved word
// list that the engine refuses to accept as a bare identifier, since several
// source kinds (MySQL, SQLite) allow these as column/table names but the
// engine always interpolates identifiers into generated SQL unquoted by
// name match, not by value.
var reservedWords = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {},
	"table": {}, "from": {}, "where": {}, "join": {}, "union": {},
	"grant": {}, "revoke": {}, "alter": {}, "create": {}, "truncate": {},
	"into": {}, "values": {}, "schema": {}, "database": {}, "user": {},
}

// ValidateIdentifier enforces invariant 2: alphanumeric-and-underscore
// identifiers that are not a reserved SQL keyword.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier must not be empty")
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q contains disallowed characters", name)
	}
	if _, reserved := reservedWords[strings.ToLower(name)]; reserved {
		return fmt.Errorf("identifier %q is a reserved word", name)
	}
	return nil
}

// ValidateQualifiedTable validates every non-empty component of t.
func ValidateQualifiedTable(t QualifiedTable) error {
	if t.Database != "" {
		if err := ValidateIdentifier(t.Database); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := ValidateIdentifier(t.Schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := ValidateIdentifier(t.Table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	return nil
}
