// SPDX-License-Identifier: Apache-2.0

// Package source defines the capability interface every source kind
// (PostgreSQL, SQLite, MongoDB, MySQL/MariaDB) implements, and the
// detection rule that selects a concrete adapter from a locator string.
package source

import (
	"context"
	"os"
	"strings"

	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/jsonconv"
	"github.com/serenorg/seren-replicator/pkg/scope"
)

// Kind identifies which concrete adapter a Locator resolves to.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
	KindMongoDB  Kind = "mongodb"
	KindMySQL    Kind = "mysql"
)

var sqliteSuffixes = []string{".db", ".sqlite", ".sqlite3"}

// Locator is an opaque source connection string plus its detected Kind.
type Locator struct {
	Raw  string
	Kind Kind
}

// Detect classifies raw per the rule in §3: URL scheme first, then a
// filesystem probe for SQLite so a bare path is still recognized.
func Detect(raw string) (Locator, error) {
	switch {
	case strings.HasPrefix(raw, "postgresql://"), strings.HasPrefix(raw, "postgres://"):
		return Locator{Raw: raw, Kind: KindPostgres}, nil
	case strings.HasPrefix(raw, "mongodb://"), strings.HasPrefix(raw, "mongodb+srv://"):
		return Locator{Raw: raw, Kind: KindMongoDB}, nil
	case strings.HasPrefix(raw, "mysql://"):
		return Locator{Raw: raw, Kind: KindMySQL}, nil
	}

	if hasSQLiteSuffix(raw) {
		info, err := os.Stat(raw)
		if err == nil && info.Mode().IsRegular() {
			return Locator{Raw: raw, Kind: KindSQLite}, nil
		}
	}

	return Locator{}, errs.Newf(errs.InvalidInput, "locator %q does not match any supported source kind", raw)
}

func hasSQLiteSuffix(raw string) bool {
	for _, suffix := range sqliteSuffixes {
		if strings.HasSuffix(raw, suffix) {
			return true
		}
	}
	return false
}

// TableSize is a best-effort row/byte estimate used for pre-run planning.
type TableSize struct {
	Rows  int64
	Bytes int64
}

// RowStream is a restartable, lazy sequence of SourceRow. Next returns
// (row, true, nil) for each row, then (zero, false, nil) at end of stream.
type RowStream interface {
	Next(ctx context.Context) (jsonconv.SourceRow, bool, error)
	Close() error
}

// Adapter is the capability set every source kind implements (§4.2). All
// methods validate identifiers against scope.ValidateIdentifier before
// interpolating them into any query.
type Adapter interface {
	Connect(ctx context.Context) error
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, database string) ([]scope.QualifiedTable, error)
	TableSize(ctx context.Context, table scope.QualifiedTable) (TableSize, error)
	StreamRows(ctx context.Context, table scope.QualifiedTable, predicate string) (RowStream, error)
	Close() error
}
