// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"fmt"

	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
)

// TablePlan is one entry of the ordered (QualifiedTable, Decision) list
// Planning computes for a database.
type TablePlan struct {
	Table    scope.QualifiedTable
	Decision scope.Decision
}

// ForeignKeyLister is implemented by source adapters that can report which
// tables a given table references, and which tables reference it back, so
// Plan can surface cascade warnings in both directions (§4.4 "Planning").
// Adapters that cannot introspect foreign keys (SQLite, MongoDB, MySQL)
// simply don't implement it; Plan treats that as "no FK information
// available" rather than an error.
type ForeignKeyLister interface {
	ForeignKeys(ctx context.Context, table scope.QualifiedTable) ([]scope.QualifiedTable, error)
	ReferencedBy(ctx context.Context, table scope.QualifiedTable) ([]scope.QualifiedTable, error)
}

// Plan lists database's tables through adapter, computes each table's
// Decision under sc (which must already have ExpandTimeFilters applied),
// and returns cascade warnings for any copied table that either references,
// or is referenced by, a table whose Decision is Skip.
func Plan(ctx context.Context, adapter source.Adapter, database string, sc scope.Scope) ([]TablePlan, []CascadeWarning, error) {
	tables, err := adapter.ListTables(ctx, database)
	if err != nil {
		return nil, nil, fmt.Errorf("listing tables for planning: %w", err)
	}

	plans := make([]TablePlan, 0, len(tables))
	skipped := map[scope.QualifiedTable]struct{}{}
	for _, t := range tables {
		decision := scope.AppliesTo(sc, t)
		plans = append(plans, TablePlan{Table: t, Decision: decision})
		if decision.Kind == scope.DecisionSkip {
			skipped[t] = struct{}{}
		}
	}

	lister, ok := adapter.(ForeignKeyLister)
	if !ok {
		return plans, nil, nil
	}

	var warnings []CascadeWarning
	for _, p := range plans {
		if p.Decision.Kind == scope.DecisionSkip {
			continue
		}

		var conflicts []string

		refs, err := lister.ForeignKeys(ctx, p.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving foreign keys for %s: %w", p.Table, err)
		}
		for _, ref := range refs {
			if _, isSkipped := skipped[ref]; isSkipped {
				conflicts = append(conflicts, ref.String())
			}
		}

		children, err := lister.ReferencedBy(ctx, p.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving tables referencing %s: %w", p.Table, err)
		}
		for _, child := range children {
			if _, isSkipped := skipped[child]; isSkipped {
				conflicts = append(conflicts, child.String())
			}
		}

		if len(conflicts) > 0 {
			warnings = append(warnings, CascadeWarning{Table: p.Table.String(), ConflictingTables: conflicts})
		}
	}

	return plans, warnings, nil
}
