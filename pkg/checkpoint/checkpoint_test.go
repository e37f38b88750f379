// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serenorg/seren-replicator/pkg/scope"
)

func TestFingerprintStableAcrossEqualInputs(t *testing.T) {
	s := scope.New()
	s.SchemaOnly[scope.NewQualifiedTable("", "public", "audit")] = struct{}{}

	source := Endpoint{Kind: "sqlite", Name: "app.db"}
	target := Endpoint{Kind: "postgres", Host: "localhost", Port: 5432, Name: "app"}

	a := Fingerprint(s, source, target)
	b := Fingerprint(s.Clone(), source, target)
	assert.Equal(t, a, b)
}

func TestFingerprintChangesWithScope(t *testing.T) {
	s1 := scope.New()
	s2 := scope.New()
	s2.SchemaOnly[scope.NewQualifiedTable("", "public", "audit")] = struct{}{}

	source := Endpoint{Kind: "sqlite", Name: "app.db"}
	target := Endpoint{Kind: "postgres", Name: "app"}

	assert.NotEqual(t, Fingerprint(s1, source, target), Fingerprint(s2, source, target))
}

func TestFingerprintIgnoresCredentials(t *testing.T) {
	// Endpoint has no credential field: two connections to the same host
	// that differ only in password reduce to the same Endpoint value, so
	// their fingerprints must match.
	s := scope.New()
	a := Fingerprint(s, Endpoint{Kind: "mysql", Host: "db1"}, Endpoint{Kind: "postgres", Host: "tgt"})
	b := Fingerprint(s, Endpoint{Kind: "mysql", Host: "db1"}, Endpoint{Kind: "postgres", Host: "tgt"})
	assert.Equal(t, a, b)
}

func TestFileStoreCommitAndLoadMonotonic(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	fp := "deadbeef"
	tbl := scope.NewQualifiedTable("", "public", "users")

	_, ok, err := store.Load(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.CommitTable(ctx, fp, tbl))
	require.NoError(t, store.CommitTable(ctx, fp, tbl)) // idempotent retry

	cp, ok, err := store.Load(ctx, fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cp.CompletedTables, 1)
	assert.True(t, cp.IsTableComplete(tbl))

	require.NoError(t, store.Reset(ctx, fp))
	_, ok, err = store.Load(ctx, fp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseTableStringRoundTrip(t *testing.T) {
	tbl := scope.NewQualifiedTable("mydb", "myschema", "mytable")
	parsed := parseTableString(tbl.String())
	assert.Equal(t, tbl, parsed)
}
