// SPDX-License-Identifier: Apache-2.0

// Package snapshot implements the filtered-snapshot pipeline shared by the
// native (PG→PG) and JSONB (SQLite/Mongo/MySQL→PG) paths: plan, prepare
// target, iterate databases and tables, commit checkpoints.
package snapshot

import (
	"time"

	"github.com/serenorg/seren-replicator/pkg/errs"
)

// Outcome classifies how a single database fared during a run.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// DatabaseResult is one database's contribution to a RunReport.
type DatabaseResult struct {
	Database string
	Outcome  Outcome
	Kind     errs.Kind // set when Outcome == OutcomeFailed
	Rows     int64
	Bytes    int64
	Elapsed  time.Duration
}

// RunReport is the summary of a single snapshot run, produced by the
// snapshot pipelines (the replication coordinator does not produce one):
// per-database outcome, row/byte counts, elapsed time, and cascade
// warnings raised during planning.
type RunReport struct {
	Databases []DatabaseResult
	Cascades  []CascadeWarning
	StartedAt time.Time
	Elapsed   time.Duration
}

// Failed reports whether any database in the run failed; the CLI exits
// non-zero when this is true (§7 propagation policy).
func (r RunReport) Failed() bool {
	for _, d := range r.Databases {
		if d.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// CascadeWarning names a table whose filtered snapshot would require
// truncating an out-of-scope table it references or is referenced by.
type CascadeWarning struct {
	Table             string
	ConflictingTables []string
}
