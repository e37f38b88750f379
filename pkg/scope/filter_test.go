// SPDX-License-Identifier: Apache-2.0

package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIdempotentWithEmptyScope(t *testing.T) {
	base := New()
	base.RowFilters[NewQualifiedTable("", "public", "orders")] = "status = 'paid'"

	merged, err := Merge(base, New())
	require.NoError(t, err)
	assert.Equal(t, base.RowFilters, merged.RowFilters)
}

func TestMergeCLITakesPrecedencePerField(t *testing.T) {
	cfg := New()
	cfg.Tables = NewIncludeOnly(NewQualifiedTable("", "public", "a"))

	cli := New()
	cli.Tables = NewIncludeOnly(NewQualifiedTable("", "public", "b"))

	merged, err := Merge(cfg, cli)
	require.NoError(t, err)
	assert.True(t, merged.Tables.Admits(NewQualifiedTable("", "public", "b")))
	assert.False(t, merged.Tables.Admits(NewQualifiedTable("", "public", "a")))
}

func TestMergeUnionsSchemaOnlyByKey(t *testing.T) {
	cfg := New()
	cfg.SchemaOnly[NewQualifiedTable("", "public", "audit")] = struct{}{}

	cli := New()
	cli.SchemaOnly[NewQualifiedTable("", "public", "logs")] = struct{}{}

	merged, err := Merge(cfg, cli)
	require.NoError(t, err)
	assert.Contains(t, merged.SchemaOnly, NewQualifiedTable("", "public", "audit"))
	assert.Contains(t, merged.SchemaOnly, NewQualifiedTable("", "public", "logs"))
}

func TestFilterExclusivity(t *testing.T) {
	s := New()
	s.Tables = SetSpec[QualifiedTable]{
		Mode:    IncludeOnly,
		Include: map[QualifiedTable]struct{}{NewQualifiedTable("", "public", "a"): {}},
		Exclude: map[QualifiedTable]struct{}{NewQualifiedTable("", "public", "b"): {}},
	}

	violations := Validate(s)
	require.NotEmpty(t, violations)
}

func TestExpandTimeFiltersIdempotent(t *testing.T) {
	s := New()
	tbl := NewQualifiedTable("", "public", "events")
	s.RowFilters[tbl] = "kind = 'login'"
	s.TimeFilters[tbl] = TimeFilter{Column: "created_at", Interval: Interval{Count: 90, Unit: Days}}

	once := ExpandTimeFilters(s)
	twice := ExpandTimeFilters(once)

	assert.Equal(t, once.RowFilters, twice.RowFilters)
	assert.Empty(t, twice.TimeFilters)
	assert.Contains(t, once.RowFilters[tbl], "kind = 'login'")
	assert.Contains(t, once.RowFilters[tbl], "created_at >= NOW() - INTERVAL '90 days'")
}

func TestAppliesToPrecedence(t *testing.T) {
	s := New()
	skip := NewQualifiedTable("", "public", "skip_me")
	schemaOnly := NewQualifiedTable("", "public", "schema_only_me")
	filtered := NewQualifiedTable("", "public", "filtered_me")
	plain := NewQualifiedTable("", "public", "plain_me")

	s.Tables = NewExcludeOnly(skip)
	s.SchemaOnly[schemaOnly] = struct{}{}
	s.RowFilters[filtered] = "id > 0"

	assert.Equal(t, DecisionSkip, AppliesTo(s, skip).Kind)
	assert.Equal(t, DecisionSchemaOnly, AppliesTo(s, schemaOnly).Kind)

	got := AppliesTo(s, filtered)
	assert.Equal(t, DecisionCopy, got.Kind)
	assert.Equal(t, "id > 0", got.Predicate)

	got = AppliesTo(s, plain)
	assert.Equal(t, DecisionCopy, got.Kind)
	assert.Empty(t, got.Predicate)
}

func TestValidateIdentifierRejectsReservedWords(t *testing.T) {
	assert.Error(t, ValidateIdentifier("select"))
	assert.Error(t, ValidateIdentifier("bad-name"))
	assert.NoError(t, ValidateIdentifier("user_accounts"))
}

func TestHasRowPredicates(t *testing.T) {
	s := New()
	assert.False(t, HasRowPredicates(s))
	s.TimeFilters[NewQualifiedTable("", "public", "t")] = TimeFilter{Column: "c", Interval: Interval{Count: 1, Unit: Days}}
	assert.True(t, HasRowPredicates(s))
}
