// SPDX-License-Identifier: Apache-2.0

// Package pg implements the PostgreSQL source adapter. stream_rows exists
// for size estimation and verification queries; the native snapshot path
// moves data through the external tool driver instead.
package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/jsonconv"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
)

const listDatabasesQuery = `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`

const listTablesQuery = `
SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name`

// Adapter connects read-only to a PostgreSQL source for catalog
// introspection and size estimation.
type Adapter struct {
	dsn  string
	conn *sql.DB
}

// New returns an unconnected Adapter for dsn.
func New(dsn string) *Adapter {
	return &Adapter{dsn: dsn}
}

func (a *Adapter) Connect(ctx context.Context) error {
	conn, err := sql.Open("postgres", a.dsn)
	if err != nil {
		return errs.Wrap(errs.SourcePrecondition, "opening postgres source", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return errs.Wrap(errs.SourcePrecondition, "connecting to postgres source", err)
	}
	a.conn = conn
	return nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := a.conn.QueryContext(ctx, listDatabasesQuery)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing databases", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning database name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (a *Adapter) ListTables(ctx context.Context, database string) ([]scope.QualifiedTable, error) {
	rows, err := a.conn.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing tables", err)
	}
	defer rows.Close()

	var tables []scope.QualifiedTable
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning table row", err)
		}
		t := scope.QualifiedTable{Database: database, Schema: schemaName, Table: tableName}
		if err := scope.ValidateQualifiedTable(t); err != nil {
			continue
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (a *Adapter) TableSize(ctx context.Context, table scope.QualifiedTable) (source.TableSize, error) {
	if err := scope.ValidateQualifiedTable(table); err != nil {
		return source.TableSize{}, errs.Wrap(errs.InvalidInput, "invalid table identifier", err)
	}
	qualified := fmt.Sprintf("%s.%s", pq.QuoteIdentifier(table.Schema), pq.QuoteIdentifier(table.Table))

	var bytes int64
	if err := a.conn.QueryRowContext(ctx, `SELECT pg_total_relation_size($1)`, qualified).Scan(&bytes); err != nil {
		return source.TableSize{}, errs.Wrap(errs.SourcePrecondition, "estimating table size", err)
	}

	var rowEstimate int64
	estimateQuery := fmt.Sprintf(`SELECT reltuples::bigint FROM pg_class WHERE oid = %s::regclass`, pq.QuoteLiteral(qualified))
	if err := a.conn.QueryRowContext(ctx, estimateQuery).Scan(&rowEstimate); err != nil {
		return source.TableSize{Bytes: bytes}, nil
	}
	return source.TableSize{Rows: rowEstimate, Bytes: bytes}, nil
}

func (a *Adapter) StreamRows(ctx context.Context, table scope.QualifiedTable, predicate string) (source.RowStream, error) {
	if err := scope.ValidateQualifiedTable(table); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "invalid table identifier", err)
	}
	query := fmt.Sprintf(`SELECT * FROM %s.%s`, pq.QuoteIdentifier(table.Schema), pq.QuoteIdentifier(table.Table))
	if predicate != "" {
		query += " WHERE " + predicate
	}

	rows, err := a.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "streaming rows", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errs.Wrap(errs.SourcePrecondition, "reading column names", err)
	}
	return &rowStream{rows: rows, columns: columns}, nil
}

const foreignKeysQuery = `
SELECT ccu.table_schema, ccu.table_name
FROM information_schema.table_constraints tc
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = $1 AND tc.table_name = $2`

// ForeignKeys returns the tables table references via a foreign key,
// satisfying snapshot.ForeignKeyLister so the planner can surface cascade
// warnings for filtered PG→PG snapshots.
func (a *Adapter) ForeignKeys(ctx context.Context, table scope.QualifiedTable) ([]scope.QualifiedTable, error) {
	rows, err := a.conn.QueryContext(ctx, foreignKeysQuery, table.Schema, table.Table)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "resolving foreign keys", err)
	}
	defer rows.Close()

	var refs []scope.QualifiedTable
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning foreign key row", err)
		}
		refs = append(refs, scope.QualifiedTable{Database: table.Database, Schema: schemaName, Table: tableName})
	}
	return refs, rows.Err()
}

const referencedByQuery = `
SELECT tc.table_schema, tc.table_name
FROM information_schema.table_constraints tc
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND ccu.table_schema = $1 AND ccu.table_name = $2`

// ReferencedBy returns the tables that hold a foreign key pointing at table,
// the inverse of ForeignKeys. A TRUNCATE CASCADE on table would also empty
// any of these, so the planner needs both directions to catch a Skip table
// that is a child of a table otherwise being copied.
func (a *Adapter) ReferencedBy(ctx context.Context, table scope.QualifiedTable) ([]scope.QualifiedTable, error) {
	rows, err := a.conn.QueryContext(ctx, referencedByQuery, table.Schema, table.Table)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "resolving referencing tables", err)
	}
	defer rows.Close()

	var refs []scope.QualifiedTable
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning referencing table row", err)
		}
		refs = append(refs, scope.QualifiedTable{Database: table.Database, Schema: schemaName, Table: tableName})
	}
	return refs, rows.Err()
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
		return jsonconv.SourceRow{}, false, errs.Wrap(errs.SourcePrecondition, "scanning row", err)
	}
	return jsonconv.SourceRow{Columns: s.columns, Values: values}, true, nil
}

func (s *rowStream) Close() error {
	return s.rows.Close()
}
