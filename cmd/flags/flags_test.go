// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serenorg/seren-replicator/pkg/scope"
)

func newTestCommand(args ...string) (*cobra.Command, error) {
	cmd := &cobra.Command{Use: "test"}
	ScopeFlags(cmd)
	cmd.Flags().Parse(args)
	return cmd, nil
}

func TestScopeFromFlagsIncludeTables(t *testing.T) {
	cmd, err := newTestCommand("--include-tables=public.orders,app.public.events")
	require.NoError(t, err)

	sc, err := ScopeFromFlags(cmd)
	require.NoError(t, err)

	assert.True(t, sc.Tables.Admits(scope.NewQualifiedTable("", "public", "orders")))
	assert.True(t, sc.Tables.Admits(scope.NewQualifiedTable("app", "public", "events")))
	assert.False(t, sc.Tables.Admits(scope.NewQualifiedTable("", "public", "other")))
}

func TestScopeFromFlagsRejectsConflictingDatabaseFlags(t *testing.T) {
	cmd, err := newTestCommand("--include-databases=app", "--exclude-databases=billing")
	require.NoError(t, err)

	_, err = ScopeFromFlags(cmd)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestScopeFromFlagsTableFilter(t *testing.T) {
	cmd, err := newTestCommand("--table-filter=orders:status = 'paid'")
	require.NoError(t, err)

	sc, err := ScopeFromFlags(cmd)
	require.NoError(t, err)

	assert.Equal(t, "status = 'paid'", sc.RowFilters[scope.NewQualifiedTable("", "", "orders")])
}

func TestScopeFromFlagsTimeFilter(t *testing.T) {
	cmd, err := newTestCommand("--time-filter=events:created_at:90d")
	require.NoError(t, err)

	sc, err := ScopeFromFlags(cmd)
	require.NoError(t, err)

	tf := sc.TimeFilters[scope.NewQualifiedTable("", "", "events")]
	assert.Equal(t, "created_at", tf.Column)
	assert.Equal(t, 90, tf.Interval.Count)
	assert.Equal(t, scope.Days, tf.Interval.Unit)
}

func TestScopeFromFlagsRejectsMalformedTimeFilter(t *testing.T) {
	cmd, err := newTestCommand("--time-filter=events:created_at:ninety-days")
	require.NoError(t, err)

	_, err = ScopeFromFlags(cmd)
	assert.Error(t, err)
}

func TestParseShortInterval(t *testing.T) {
	iv, err := parseShortInterval("12h")
	require.NoError(t, err)
	assert.Equal(t, 12, iv.Count)
	assert.Equal(t, scope.Hours, iv.Unit)

	_, err = parseShortInterval("abc")
	assert.Error(t, err)
}
