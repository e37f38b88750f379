// SPDX-License-Identifier: Apache-2.0

package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/snapshot"
	"github.com/serenorg/seren-replicator/pkg/source"
)

// fakeFKAdapter is a minimal source.Adapter plus snapshot.ForeignKeyLister,
// with fixed tables and a fixed foreign-key graph, enough to drive Plan
// without a real database.
type fakeFKAdapter struct {
	tables       []scope.QualifiedTable
	references   map[scope.QualifiedTable][]scope.QualifiedTable // outbound: table -> tables it references
	referencedBy map[scope.QualifiedTable][]scope.QualifiedTable // inbound: table -> tables that reference it
}

func (f *fakeFKAdapter) Connect(ctx context.Context) error { return nil }
func (f *fakeFKAdapter) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{"app"}, nil
}
func (f *fakeFKAdapter) ListTables(ctx context.Context, database string) ([]scope.QualifiedTable, error) {
	return f.tables, nil
}
func (f *fakeFKAdapter) TableSize(ctx context.Context, table scope.QualifiedTable) (source.TableSize, error) {
	return source.TableSize{}, nil
}
func (f *fakeFKAdapter) StreamRows(ctx context.Context, table scope.QualifiedTable, predicate string) (source.RowStream, error) {
	return nil, nil
}
func (f *fakeFKAdapter) Close() error { return nil }

func (f *fakeFKAdapter) ForeignKeys(ctx context.Context, table scope.QualifiedTable) ([]scope.QualifiedTable, error) {
	return f.references[table], nil
}

func (f *fakeFKAdapter) ReferencedBy(ctx context.Context, table scope.QualifiedTable) ([]scope.QualifiedTable, error) {
	return f.referencedBy[table], nil
}

var _ source.Adapter = (*fakeFKAdapter)(nil)
var _ snapshot.ForeignKeyLister = (*fakeFKAdapter)(nil)

func TestPlanWarnsWhenCopyTableReferencesSkipTable(t *testing.T) {
	orders := scope.NewQualifiedTable("", "public", "orders")
	customers := scope.NewQualifiedTable("", "public", "customers")

	adapter := &fakeFKAdapter{
		tables:     []scope.QualifiedTable{orders, customers},
		references: map[scope.QualifiedTable][]scope.QualifiedTable{orders: {customers}},
	}

	sc := scope.New()
	sc.Tables = scope.NewExcludeOnly(customers)

	_, cascades, err := snapshot.Plan(context.Background(), adapter, "app", sc)
	require.NoError(t, err)

	require.Len(t, cascades, 1)
	assert.Equal(t, orders.String(), cascades[0].Table)
	assert.Contains(t, cascades[0].ConflictingTables, customers.String())
}

// TestPlanWarnsWhenSkipTableReferencesCopyTable is the mirror of the above:
// a Skip table holds the foreign key, pointing at a table that would be
// copied. TRUNCATE CASCADE on the copy table would also empty the Skip
// table's rows on the target, so Plan must flag this direction too.
func TestPlanWarnsWhenSkipTableReferencesCopyTable(t *testing.T) {
	orders := scope.NewQualifiedTable("", "public", "orders")
	auditLog := scope.NewQualifiedTable("", "public", "audit_log")

	adapter := &fakeFKAdapter{
		tables:       []scope.QualifiedTable{orders, auditLog},
		referencedBy: map[scope.QualifiedTable][]scope.QualifiedTable{orders: {auditLog}},
	}

	sc := scope.New()
	sc.Tables = scope.NewExcludeOnly(auditLog)

	_, cascades, err := snapshot.Plan(context.Background(), adapter, "app", sc)
	require.NoError(t, err)

	require.Len(t, cascades, 1)
	assert.Equal(t, orders.String(), cascades[0].Table)
	assert.Contains(t, cascades[0].ConflictingTables, auditLog.String())
}

func TestPlanNoCascadesWhenNothingSkipped(t *testing.T) {
	orders := scope.NewQualifiedTable("", "public", "orders")
	customers := scope.NewQualifiedTable("", "public", "customers")

	adapter := &fakeFKAdapter{
		tables:     []scope.QualifiedTable{orders, customers},
		references: map[scope.QualifiedTable][]scope.QualifiedTable{orders: {customers}},
	}

	plans, cascades, err := snapshot.Plan(context.Background(), adapter, "app", scope.New())
	require.NoError(t, err)

	assert.Empty(t, cascades)
	assert.Len(t, plans, 2)
	for _, p := range plans {
		assert.Equal(t, scope.DecisionCopy, p.Decision.Kind)
	}
}
