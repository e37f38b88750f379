// SPDX-License-Identifier: Apache-2.0

// Package mysql implements the MySQL/MariaDB source adapter. Discovery uses
// SHOW TABLES and information_schema.columns; column wire types are carried
// alongside each row so jsonconv.ConvertMySQLTyped can disambiguate
// DECIMAL/DATETIME/TIME/BLOB from plain strings.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/jsonconv"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
)

var systemDatabases = map[string]struct{}{
	"information_schema": {},
	"performance_schema": {},
	"mysql":               {},
	"sys":                 {},
}

// Adapter connects to a MySQL/MariaDB server.
type Adapter struct {
	dsn  string
	conn *sql.DB
}

// New validates the URL prefix before returning an Adapter.
func New(dsn string) (*Adapter, error) {
	if !strings.HasPrefix(dsn, "mysql://") {
		return nil, errs.Newf(errs.InvalidInput, "mysql locator %q must start with mysql://", dsn)
	}
	return &Adapter{dsn: toDriverDSN(dsn)}, nil
}

// toDriverDSN rewrites the mysql:// URL form into the go-sql-driver/mysql
// DSN form (user:pass@tcp(host:port)/dbname), since the driver does not
// accept the URL form directly.
func toDriverDSN(locator string) string {
	rest := strings.TrimPrefix(locator, "mysql://")
	userinfo, hostAndPath := "", rest
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		userinfo, hostAndPath = rest[:at+1], rest[at+1:]
	}
	host, path := hostAndPath, ""
	if slash := strings.Index(hostAndPath, "/"); slash >= 0 {
		host, path = hostAndPath[:slash], hostAndPath[slash:]
	}
	return userinfo + "tcp(" + host + ")" + path
}

func (a *Adapter) Connect(ctx context.Context) error {
	conn, err := sql.Open("mysql", a.dsn)
	if err != nil {
		return errs.Wrap(errs.SourcePrecondition, "opening mysql source", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return errs.Wrap(errs.SourcePrecondition, "connecting to mysql source", err)
	}
	a.conn = conn
	return nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := a.conn.QueryContext(ctx, `SHOW DATABASES`)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing mysql databases", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning mysql database name", err)
		}
		if _, skip := systemDatabases[name]; skip {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (a *Adapter) ListTables(ctx context.Context, database string) ([]scope.QualifiedTable, error) {
	if err := scope.ValidateIdentifier(database); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "invalid database identifier", err)
	}
	query := fmt.Sprintf("SHOW TABLES FROM %s", quoteIdent(database))
	rows, err := a.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing mysql tables", err)
	}
	defer rows.Close()

	var tables []scope.QualifiedTable
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning mysql table name", err)
		}
		t := scope.QualifiedTable{Database: database, Schema: "public", Table: name}
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

	var rows, bytes sql.NullInt64
	query := `SELECT table_rows, data_length + index_length FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
	if err := a.conn.QueryRowContext(ctx, query, table.Database, table.Table).Scan(&rows, &bytes); err != nil {
		return source.TableSize{}, errs.Wrap(errs.SourcePrecondition, "estimating mysql table size", err)
	}
	return source.TableSize{Rows: rows.Int64, Bytes: bytes.Int64}, nil
}

func (a *Adapter) StreamRows(ctx context.Context, table scope.QualifiedTable, predicate string) (source.RowStream, error) {
	if err := scope.ValidateIdentifier(table.Table); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "invalid table identifier", err)
	}

	columnTypes, err := a.columnTypes(ctx, table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s", quoteIdent(table.Database), quoteIdent(table.Table))
	if predicate != "" {
		query += " WHERE " + predicate
	}
	rows, err := a.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "streaming mysql rows", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errs.Wrap(errs.SourcePrecondition, "reading mysql column names", err)
	}

	types := make([]jsonconv.ColumnType, len(columns))
	for i, col := range columns {
		types[i] = columnTypes[col]
	}
	return &rowStream{rows: rows, columns: columns, columnTypes: types}, nil
}

// columnTypes maps each column name to the jsonconv.ColumnType the JSONB
// converter needs to disambiguate DECIMAL/DATETIME/TIME/BLOB/JSON from
// plain strings, per §4.3.
func (a *Adapter) columnTypes(ctx context.Context, table scope.QualifiedTable) (map[string]jsonconv.ColumnType, error) {
	query := `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = ? AND table_name = ?`
	rows, err := a.conn.QueryContext(ctx, query, table.Database, table.Table)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "reading mysql column types", err)
	}
	defer rows.Close()

	out := map[string]jsonconv.ColumnType{}
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, errs.Wrap(errs.SourcePrecondition, "scanning mysql column type", err)
		}
		out[name] = classifyColumnType(dataType)
	}
	return out, rows.Err()
}

func classifyColumnType(dataType string) jsonconv.ColumnType {
	switch strings.ToLower(dataType) {
	case "decimal", "numeric":
		return jsonconv.ColTypeDecimal
	case "date", "datetime", "timestamp":
		return jsonconv.ColTypeDateTime
	case "time":
		return jsonconv.ColTypeTime
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return jsonconv.ColTypeBinary
	case "json":
		return jsonconv.ColTypeJSON
	default:
		return jsonconv.ColTypeDefault
	}
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

type rowStream struct {
	rows        *sql.Rows
	columns     []string
	columnTypes []jsonconv.ColumnType
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
		return jsonconv.SourceRow{}, false, errs.Wrap(errs.SourcePrecondition, "scanning mysql row", err)
	}
	return jsonconv.SourceRow{Columns: s.columns, Values: values}, true, nil
}

// Typed returns the TypedSourceRow form of row, carrying this stream's
// column types so the caller can use jsonconv.ConvertMySQLTyped instead of
// the type-erased Convert entry point.
func (s *rowStream) Typed(row jsonconv.SourceRow) jsonconv.TypedSourceRow {
	return jsonconv.TypedSourceRow{SourceRow: row, ColumnTypes: s.columnTypes}
}

func (s *rowStream) Close() error {
	return s.rows.Close()
}
