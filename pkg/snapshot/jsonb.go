// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/serenorg/seren-replicator/pkg/checkpoint"
	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/jsonconv"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
)

const (
	// batchSize bounds rows per upsert transaction (§4.4.2 step 4); at four
	// bind parameters per row this stays far below PostgreSQL's 65535 cap.
	batchSize = 1000

	batchMaxRetries    = 3
	batchBackoffStart  = 100 * time.Millisecond
	batchBackoffBudget = 2500 * time.Millisecond
)

// JSONBPipeline runs the SQLite/Mongo/MySQL→PG snapshot path (§4.4.2).
type JSONBPipeline struct {
	Source      source.Adapter
	SourceKind  jsonconv.SourceKind
	Target      *db.RDB
	Checkpoint  checkpoint.Store
	Fingerprint string
	Scope       scope.Scope
	Logger      *log.Logger
}

func (p *JSONBPipeline) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// workerLimit bounds parallel table workers to min(8, host CPU count), per
// the concurrency model shared by both snapshot paths.
func workerLimit() int {
	if n := runtime.NumCPU(); n < 8 {
		return n
	}
	return 8
}

// Run executes the full JSONB path over every database the source reports,
// applying Scope's database filter, and returns a RunReport summarizing the
// outcome (§3 RunReport).
func (p *JSONBPipeline) Run(ctx context.Context) (*RunReport, error) {
	started := time.Now()
	report := &RunReport{StartedAt: started}

	databases, err := p.Source.ListDatabases(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing source databases", err)
	}

	cp, _, err := p.Checkpoint.Load(ctx, p.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	for _, database := range databases {
		if !p.Scope.Databases.Admits(database) {
			report.Databases = append(report.Databases, DatabaseResult{Database: database, Outcome: OutcomeSkipped})
			continue
		}
		if cp.IsDatabaseComplete(database) {
			report.Databases = append(report.Databases, DatabaseResult{Database: database, Outcome: OutcomeCommitted})
			continue
		}

		result, cascades := p.runDatabase(ctx, database, cp)
		report.Databases = append(report.Databases, result)
		report.Cascades = append(report.Cascades, cascades...)
	}

	report.Elapsed = time.Since(started)
	return report, nil
}

func (p *JSONBPipeline) runDatabase(ctx context.Context, database string, cp checkpoint.Checkpoint) (DatabaseResult, []CascadeWarning) {
	start := time.Now()
	result := DatabaseResult{Database: database}

	plans, cascades, err := Plan(ctx, p.Source, database, p.Scope)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Kind = errs.SourcePrecondition
		result.Elapsed = time.Since(start)
		return result, cascades
	}
	if len(cascades) > 0 {
		p.logger().Warn("filtered snapshot would cascade into out-of-scope tables", "database", database, "count", len(cascades))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workerLimit())

	var totalRows, totalBytes int64
	var mu sync.Mutex
	var failedKind atomic.Value // errs.Kind

	for _, plan := range plans {
		if plan.Decision.Kind == scope.DecisionSkip || plan.Decision.Kind == scope.DecisionSchemaOnly {
			continue
		}
		if cp.IsTableComplete(plan.Table) {
			continue
		}

		group.Go(func() error {
			rows, bytes, err := p.runTable(groupCtx, plan.Table, plan.Decision.Predicate)
			if err != nil {
				if e, ok := errs.AsEngineError(err); ok {
					failedKind.Store(e.Kind)
				} else {
					failedKind.Store(errs.ToolFailure)
				}
				return err
			}
			mu.Lock()
			totalRows += rows
			totalBytes += bytes
			mu.Unlock()
			return p.Checkpoint.CommitTable(groupCtx, p.Fingerprint, plan.Table)
		})
	}

	if err := group.Wait(); err != nil {
		result.Outcome = OutcomeFailed
		if k, ok := failedKind.Load().(errs.Kind); ok {
			result.Kind = k
		} else {
			result.Kind = errs.ToolFailure
		}
		result.Elapsed = time.Since(start)
		return result, cascades
	}

	if err := p.Checkpoint.CommitDatabase(ctx, p.Fingerprint, database); err != nil {
		result.Outcome = OutcomeFailed
		result.Kind = errs.TargetPrecondition
		result.Elapsed = time.Since(start)
		return result, cascades
	}

	result.Outcome = OutcomeCommitted
	result.Rows = totalRows
	result.Bytes = totalBytes
	result.Elapsed = time.Since(start)
	return result, cascades
}

// runTable streams table, converts each row, and upserts it in batches.
func (p *JSONBPipeline) runTable(ctx context.Context, table scope.QualifiedTable, predicate string) (rows int64, bytes int64, err error) {
	if err := ensureJSONBTable(ctx, p.Target, table); err != nil {
		return 0, 0, err
	}

	stream, err := p.Source.StreamRows(ctx, table, predicate)
	if err != nil {
		return 0, 0, err
	}
	defer stream.Close()

	batch := make([]jsonconv.JsonbRow, 0, batchSize)
	for {
		row, ok, err := stream.Next(ctx)
		if err != nil {
			return rows, bytes, errs.Wrap(errs.SourcePrecondition, "reading source row", err)
		}
		if !ok {
			break
		}

		converted, err := convertRow(row, p.SourceKind, stream)
		if err != nil {
			return rows, bytes, errs.Wrap(errs.DataIntegrity, "converting row", err)
		}
		converted.MigratedAt = time.Now().UTC()
		batch = append(batch, converted)

		if len(batch) >= batchSize {
			n, err := p.writeBatch(ctx, table, batch)
			rows += n
			if err != nil {
				return rows, bytes, err
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		n, err := p.writeBatch(ctx, table, batch)
		rows += n
		if err != nil {
			return rows, bytes, err
		}
	}

	return rows, bytes, nil
}

// convertRow uses the MySQL-typed conversion path when the stream carries
// column type hints, falling back to the generic Convert entry point
// otherwise.
func convertRow(row jsonconv.SourceRow, kind jsonconv.SourceKind, stream source.RowStream) (jsonconv.JsonbRow, error) {
	type typedStream interface {
		Typed(jsonconv.SourceRow) jsonconv.TypedSourceRow
	}
	if kind == jsonconv.MySQL {
		if ts, ok := stream.(typedStream); ok {
			return jsonconv.ConvertMySQLTyped(ts.Typed(row))
		}
	}
	return jsonconv.Convert(row, kind)
}

// writeBatch upserts rows within a single transaction, retrying up to
// batchMaxRetries times with exponential backoff (100ms, 500ms, 2500ms) on
// failure (§4.4.2 "Batch failures"); on persistent failure the error is
// returned for the caller to mark the database failed.
func (p *JSONBPipeline) writeBatch(ctx context.Context, table scope.QualifiedTable, rows []jsonconv.JsonbRow) (int64, error) {
	delays := [batchMaxRetries]time.Duration{batchBackoffStart, 5 * batchBackoffStart, batchBackoffBudget}

	var lastErr error
	for attempt := 0; attempt <= batchMaxRetries; attempt++ {
		err := p.Target.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return upsertBatch(ctx, tx, table, rows)
		})
		if err == nil {
			return int64(len(rows)), nil
		}
		lastErr = err

		if attempt == batchMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delays[attempt]):
		}
	}

	return 0, errs.Wrap(errs.TransientIO, fmt.Sprintf("batch upsert to %s failed after retries", table), lastErr)
}

func upsertBatch(ctx context.Context, tx *sql.Tx, table scope.QualifiedTable, rows []jsonconv.JsonbRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `INSERT INTO %s (id, data, _source_type, _migrated_at) VALUES `, qualifiedName(table))

	args := make([]any, 0, len(rows)*4)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4)
		args = append(args, r.ID, jsonMarshal(r.Data), string(r.SourceType), r.MigratedAt)
	}
	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, _source_type = EXCLUDED._source_type, _migrated_at = EXCLUDED._migrated_at`)

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return errs.Wrap(errs.TargetPrecondition, "upserting batch", err)
	}
	return nil
}

func jsonMarshal(v jsonconv.JsonValue) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Convert guarantees v is built only from JSON-representable types
		// (maps, slices, strings, numbers, bools, nil); a marshal failure
		// here means a converter introduced an unsupported type.
		panic("snapshot: jsonb value failed to marshal: " + err.Error())
	}
	return b
}

const jsonbTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	data          JSONB NOT NULL,
	_source_type  TEXT NOT NULL,
	_migrated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s USING GIN (data);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (_source_type);
`

// ensureJSONBTable creates the fixed target schema (§3, §6) for table if it
// does not already exist, with index names idx_<table>_data / idx_<table>_source.
func ensureJSONBTable(ctx context.Context, target *db.RDB, table scope.QualifiedTable) error {
	ddl := fmt.Sprintf(jsonbTableDDL,
		qualifiedName(table),
		pq.QuoteIdentifier(fmt.Sprintf("idx_%s_data", table.Table)),
		pq.QuoteIdentifier(fmt.Sprintf("idx_%s_source", table.Table)),
	)
	if _, err := target.ExecContext(ctx, ddl); err != nil {
		return errs.Wrap(errs.TargetPrecondition, "creating jsonb target table", err)
	}
	return nil
}

func qualifiedName(table scope.QualifiedTable) string {
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(table.Schema), pq.QuoteIdentifier(table.Table))
}
