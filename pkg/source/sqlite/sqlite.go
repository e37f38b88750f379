// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the SQLite source adapter. SQLite has no
// database concept beyond the file itself, so ListDatabases returns a
// single implicit name, and predicates are not supported: the snapshot is
// always a full table read.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/jsonconv"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
)

// ImplicitDatabase is the single database name SQLite sources report, since
// a SQLite file has no notion of multiple databases.
const ImplicitDatabase = "main"

var allowedSuffixes = []string{".db", ".sqlite", ".sqlite3"}

// Adapter opens a SQLite file in read-only mode.
type Adapter struct {
	path string
	conn *sql.DB
}

// New validates path against the read-only-snapshot safety rule (regular
// file, no path traversal, allowed suffix) before returning an Adapter.
func New(path string) (*Adapter, error) {
	if strings.Contains(path, "..") {
		return nil, errs.Newf(errs.InvalidInput, "sqlite path %q must not contain '..'", path)
	}
	if !hasAllowedSuffix(path) {
		return nil, errs.Newf(errs.InvalidInput, "sqlite path %q has an unsupported suffix", path)
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return nil, errs.Newf(errs.InvalidInput, "sqlite path %q is not a regular file", path)
	}
	return &Adapter{path: path}, nil
}

func hasAllowedSuffix(path string) bool {
	for _, suffix := range allowedSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func (a *Adapter) Connect(ctx context.Context) error {
	abs, err := filepath.Abs(a.path)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "resolving sqlite path", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro", abs)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errs.Wrap(errs.SourcePrecondition, "opening sqlite source", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return errs.Wrap(errs.SourcePrecondition, "opening sqlite source read-only", err)
	}
	a.conn = conn
	return nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{ImplicitDatabase}, nil
}

func (a *Adapter) ListTables(ctx context.Context, database string) ([]scope.QualifiedTable, error) {
	rows, err := a.conn.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing sqlite tables", err)
	}
	defer rows.Close()

	var tables []scope.QualifiedTable
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning sqlite table name", err)
		}
		t := scope.QualifiedTable{Database: ImplicitDatabase, Schema: "public", Table: name}
		if err := scope.ValidateIdentifier(name); err != nil {
			continue
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (a *Adapter) TableSize(ctx context.Context, table scope.QualifiedTable) (source.TableSize, error) {
	if err := scope.ValidateIdentifier(table.Table); err != nil {
		return source.TableSize{}, errs.Wrap(errs.InvalidInput, "invalid table identifier", err)
	}
	var rowCount int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table.Table)
	if err := a.conn.QueryRowContext(ctx, query).Scan(&rowCount); err != nil {
		return source.TableSize{}, errs.Wrap(errs.SourcePrecondition, "counting sqlite rows", err)
	}
	return source.TableSize{Rows: rowCount}, nil
}

// StreamRows ignores predicate: SQLite predicates are not supported, so the
// snapshot is always a full table read (§4.2).
func (a *Adapter) StreamRows(ctx context.Context, table scope.QualifiedTable, predicate string) (source.RowStream, error) {
	if err := scope.ValidateIdentifier(table.Table); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "invalid table identifier", err)
	}
	query := fmt.Sprintf(`SELECT * FROM "%s"`, table.Table)
	rows, err := a.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "streaming sqlite rows", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errs.Wrap(errs.SourcePrecondition, "reading sqlite column names", err)
	}
	return &rowStream{rows: rows, columns: columns}, nil
}

func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

type rowStream struct {
	rows    *sql.Rows
	columns []string
}

func (s *rowStream) Next(ctx context.Context) (jsonconv.SourceRow, bool, error) {
	if !s.rows.Next() {
		return jsonconv.SourceRow{}, false, s.rows.Err()
	}
	values := make([]any, len(s.columns))
	scanTargets := make([]any, len(s.columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := s.rows.Scan(scanTargets...); err != nil {
		return jsonconv.SourceRow{}, false, errs.Wrap(errs.SourcePrecondition, "scanning sqlite row", err)
	}
	return jsonconv.SourceRow{Columns: s.columns, Values: values}, true, nil
}

func (s *rowStream) Close() error {
	return s.rows.Close()
}
