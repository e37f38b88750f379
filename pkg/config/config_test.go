// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serenorg/seren-replicator/pkg/scope"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesSchemaOnlyAndFilters(t *testing.T) {
	path := writeConfig(t, `
[databases.app]
schema_only = ["audit_log"]

[[databases.app.table_filters]]
table = "orders"
where = "status = 'paid'"

[[databases.app.time_filters]]
table = "events"
column = "created_at"
last = "90 days"
`)

	sc, err := Load(path)
	require.NoError(t, err)

	assert.Contains(t, sc.SchemaOnly, scope.NewQualifiedTable("app", "public", "audit_log"))
	assert.Equal(t, "status = 'paid'", sc.RowFilters[scope.NewQualifiedTable("app", "public", "orders")])

	tf := sc.TimeFilters[scope.NewQualifiedTable("app", "public", "events")]
	assert.Equal(t, "created_at", tf.Column)
	assert.Equal(t, 90, tf.Interval.Count)
	assert.Equal(t, scope.Days, tf.Interval.Unit)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[databases.app]
schema_only = ["audit_log"]
typo_key = "oops"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown keys")
}

func TestLoadRejectsTableFilterWithoutWhere(t *testing.T) {
	path := writeConfig(t, `
[[databases.app.table_filters]]
table = "orders"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "no where clause")
}

func TestLoadRejectsUnparsableDuration(t *testing.T) {
	path := writeConfig(t, `
[[databases.app.time_filters]]
table = "events"
column = "created_at"
last = "soon"
`)

	_, err := Load(path)
	assert.Error(t, err)
}
