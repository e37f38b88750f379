// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/scope"
)

const sqlInitPG = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.checkpoints (
	scope_fingerprint	TEXT PRIMARY KEY,
	completed_databases	JSONB NOT NULL DEFAULT '[]'::jsonb,
	completed_tables	JSONB NOT NULL DEFAULT '[]'::jsonb,
	last_updated		TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PGStore persists checkpoints inside the target PostgreSQL database, in a
// dedicated metadata schema, mirroring how the engine's own state tables
// are created on demand.
type PGStore struct {
	conn   db.DB
	schema string
}

// NewPGStore opens (and lazily creates) the checkpoint metadata table in
// schemaName within the target database. conn is expected to be a *db.RDB
// so transient errors during checkpoint commits are retried the same way
// as every other write against the target.
func NewPGStore(ctx context.Context, conn db.DB, schemaName string) (*PGStore, error) {
	if schemaName == "" {
		schemaName = "seren_replication"
	}
	s := &PGStore{conn: conn, schema: schemaName}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(sqlInitPG, pq.QuoteIdentifier(schemaName))); err != nil {
		return nil, fmt.Errorf("initializing checkpoint schema: %w", err)
	}
	return s, nil
}

func (s *PGStore) qualified(table string) string {
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(s.schema), pq.QuoteIdentifier(table))
}

func (s *PGStore) Load(ctx context.Context, fingerprint string) (Checkpoint, bool, error) {
	row := s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT completed_databases, completed_tables, last_updated FROM %s WHERE scope_fingerprint = $1`,
		s.qualified("checkpoints")), fingerprint)

	var rawDatabases, rawTables []byte
	var lastUpdated time.Time
	if err := row.Scan(&rawDatabases, &rawTables, &lastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("loading checkpoint: %w", err)
	}

	var databases []string
	if err := json.Unmarshal(rawDatabases, &databases); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decoding completed databases: %w", err)
	}

	var tableStrings []string
	if err := json.Unmarshal(rawTables, &tableStrings); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decoding completed tables: %w", err)
	}

	return Checkpoint{
		ScopeFingerprint:   fingerprint,
		CompletedDatabases: databases,
		CompletedTables:    parseTableStrings(tableStrings),
		LastUpdated:        lastUpdated,
	}, true, nil
}

func (s *PGStore) CommitDatabase(ctx context.Context, fingerprint, database string) error {
	return s.appendJSONArray(ctx, fingerprint, "completed_databases", database)
}

func (s *PGStore) CommitTable(ctx context.Context, fingerprint string, table scope.QualifiedTable) error {
	return s.appendJSONArray(ctx, fingerprint, "completed_tables", table.String())
}

// appendJSONArray upserts fingerprint's row and appends value to the named
// JSONB array column if it is not already present, all within one
// statement so concurrent commits for distinct tables never lose an update.
func (s *PGStore) appendJSONArray(ctx context.Context, fingerprint, column, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (scope_fingerprint, %[2]s, last_updated)
		VALUES ($1, jsonb_build_array($2::text), now())
		ON CONFLICT (scope_fingerprint) DO UPDATE SET
			%[2]s = CASE
				WHEN %[1]s.%[2]s @> jsonb_build_array($2::text) THEN %[1]s.%[2]s
				ELSE %[1]s.%[2]s || jsonb_build_array($2::text)
			END,
			last_updated = now()`,
		s.qualified("checkpoints"), pq.QuoteIdentifier(column))

	if _, err := s.conn.ExecContext(ctx, query, fingerprint, value); err != nil {
		return fmt.Errorf("committing %s: %w", column, err)
	}
	return nil
}

func (s *PGStore) Reset(ctx context.Context, fingerprint string) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE scope_fingerprint = $1`, s.qualified("checkpoints")), fingerprint)
	if err != nil {
		return fmt.Errorf("resetting checkpoint: %w", err)
	}
	return nil
}

func parseTableStrings(raw []string) []scope.QualifiedTable {
	tables := make([]scope.QualifiedTable, 0, len(raw))
	for _, s := range raw {
		tables = append(tables, parseTableString(s))
	}
	return tables
}

// parseTableString parses the database.schema.table / schema.table forms
// produced by QualifiedTable.String.
func parseTableString(s string) scope.QualifiedTable {
	parts := splitDot(s)
	switch len(parts) {
	case 3:
		return scope.QualifiedTable{Database: parts[0], Schema: parts[1], Table: parts[2]}
	case 2:
		return scope.QualifiedTable{Schema: parts[0], Table: parts[1]}
	default:
		return scope.QualifiedTable{Schema: "public", Table: s}
	}
}

func splitDot(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
