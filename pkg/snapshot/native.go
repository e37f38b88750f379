// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/serenorg/seren-replicator/pkg/checkpoint"
	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
	"github.com/serenorg/seren-replicator/pkg/source/pg"
	"github.com/serenorg/seren-replicator/pkg/tooldriver"
)

// NativePipeline runs the PG→PG snapshot path (§4.4.1): dump restricted to
// scope, restore to target, truncate-cascade refusal for filtered restores.
type NativePipeline struct {
	Source      *pg.Adapter
	SourceConn  tooldriver.ConnParams
	TargetConn  tooldriver.ConnParams
	Target      *db.RDB
	Driver      *tooldriver.Driver
	Checkpoint  checkpoint.Store
	Fingerprint string
	Scope       scope.Scope
	WorkDir     string
	Jobs        int
	Logger      *log.Logger
}

func (p *NativePipeline) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

func (p *NativePipeline) jobs() int {
	if p.Jobs > 0 {
		return p.Jobs
	}
	return workerLimit()
}

// Run executes the dump/restore procedure per database in scope (§4.4.1
// steps 1-6), returning a RunReport.
func (p *NativePipeline) Run(ctx context.Context) (*RunReport, error) {
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

	first := true
	for _, database := range databases {
		if !p.Scope.Databases.Admits(database) {
			report.Databases = append(report.Databases, DatabaseResult{Database: database, Outcome: OutcomeSkipped})
			continue
		}
		if cp.IsDatabaseComplete(database) {
			report.Databases = append(report.Databases, DatabaseResult{Database: database, Outcome: OutcomeCommitted})
			first = false
			continue
		}

		result, cascades := p.runDatabase(ctx, database, first)
		report.Databases = append(report.Databases, result)
		report.Cascades = append(report.Cascades, cascades...)
		first = false
	}

	report.Elapsed = time.Since(started)
	return report, nil
}

func (p *NativePipeline) runDatabase(ctx context.Context, database string, dumpGlobals bool) (DatabaseResult, []CascadeWarning) {
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
		return DatabaseResult{
			Database: database,
			Outcome:  OutcomeFailed,
			Kind:     errs.Cascade,
			Elapsed:  time.Since(start),
		}, cascades
	}

	dumpDir, err := os.MkdirTemp(p.WorkDir, "seren-dump-*")
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Kind = errs.ToolFailure
		result.Elapsed = time.Since(start)
		return result, cascades
	}
	defer os.RemoveAll(dumpDir)

	if dumpGlobals {
		globalsPath := filepath.Join(dumpDir, "globals.sql")
		f, err := os.Create(globalsPath)
		if err == nil {
			_, err = p.Driver.DumpGlobals(ctx, p.SourceConn, f)
			f.Close()
		}
		if err != nil {
			p.logger().Warn("dumping globals failed, continuing without role definitions", "error", err)
		}
	}

	var schemaOnlyTables, dataTables []string
	var predicateTables []TablePlan
	for _, plan := range plans {
		switch plan.Decision.Kind {
		case scope.DecisionSkip:
			continue
		case scope.DecisionSchemaOnly:
			schemaOnlyTables = append(schemaOnlyTables, plan.Table.String())
		case scope.DecisionCopy:
			schemaOnlyTables = append(schemaOnlyTables, plan.Table.String())
			if plan.Decision.Predicate != "" {
				predicateTables = append(predicateTables, plan)
			} else {
				dataTables = append(dataTables, plan.Table.String())
			}
		}
	}

	schemaArchive := filepath.Join(dumpDir, "schema")
	if _, err := p.Driver.DumpSchema(ctx, p.SourceConn, schemaOnlyTables, schemaArchive); err != nil {
		result.Outcome = OutcomeFailed
		result.Kind = errs.ToolFailure
		result.Elapsed = time.Since(start)
		return result, cascades
	}
	if _, err := p.Driver.Restore(ctx, p.TargetConn, schemaArchive, p.jobs()); err != nil {
		result.Outcome = OutcomeFailed
		result.Kind = errs.ToolFailure
		result.Elapsed = time.Since(start)
		return result, cascades
	}

	if len(dataTables) > 0 {
		dataArchive := filepath.Join(dumpDir, "data")
		if _, err := p.Driver.DumpData(ctx, p.SourceConn, dataTables, p.jobs(), dataArchive); err != nil {
			result.Outcome = OutcomeFailed
			result.Kind = errs.ToolFailure
			result.Elapsed = time.Since(start)
			return result, cascades
		}
		if _, err := p.Driver.Restore(ctx, p.TargetConn, dataArchive, p.jobs()); err != nil {
			result.Outcome = OutcomeFailed
			result.Kind = errs.ToolFailure
			result.Elapsed = time.Since(start)
			return result, cascades
		}
		for _, t := range dataTables {
			_ = p.Checkpoint.CommitTable(ctx, p.Fingerprint, parseQualified(t))
		}
	}

	for _, plan := range predicateTables {
		if err := p.copyPredicateTable(ctx, plan.Table, plan.Decision.Predicate); err != nil {
			result.Outcome = OutcomeFailed
			result.Kind = errs.ToolFailure
			result.Elapsed = time.Since(start)
			return result, cascades
		}
		_ = p.Checkpoint.CommitTable(ctx, p.Fingerprint, plan.Table)
	}

	if err := p.Checkpoint.CommitDatabase(ctx, p.Fingerprint, database); err != nil {
		result.Outcome = OutcomeFailed
		result.Kind = errs.TargetPrecondition
		result.Elapsed = time.Since(start)
		return result, cascades
	}

	result.Outcome = OutcomeCommitted
	result.Elapsed = time.Since(start)
	return result, cascades
}

// copyPredicateTable streams a predicate-restricted table through psql's
// COPY TO STDOUT and loads it back with COPY FROM STDIN, since pg_dump has
// no native per-table WHERE clause (§4.4.1 step 3). Before loading, it
// truncates the target table: Plan already refused the run with a Cascade
// error if truncating would hit an out-of-scope table (§4.4.1 step 5), so
// by the time this runs the cascade is either empty or entirely in-scope.
func (p *NativePipeline) copyPredicateTable(ctx context.Context, table scope.QualifiedTable, predicate string) error {
	qualified := fmt.Sprintf("%s.%s", table.Schema, table.Table)

	if _, err := p.Driver.RunSQL(ctx, p.TargetConn, fmt.Sprintf("TRUNCATE %s CASCADE", qualified)); err != nil {
		return errs.Wrap(errs.ToolFailure, fmt.Sprintf("truncating %s before filtered restore", qualified), err)
	}

	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Driver.CopyFilteredTable(ctx, p.SourceConn, qualified, predicate, pw)
		pw.CloseWithError(err)
		errCh <- err
	}()

	_, loadErr := p.Driver.LoadCopyData(ctx, p.TargetConn, qualified, pr)
	dumpErr := <-errCh
	if dumpErr != nil {
		return dumpErr
	}
	return loadErr
}

// parseQualified parses the "schema.table" strings the dump/restore code
// works with back into a scope.QualifiedTable for checkpoint commits.
func parseQualified(s string) scope.QualifiedTable {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return scope.QualifiedTable{Schema: s[:i], Table: s[i+1:]}
		}
	}
	return scope.QualifiedTable{Schema: "public", Table: s}
}

var _ source.Adapter = (*pg.Adapter)(nil)
