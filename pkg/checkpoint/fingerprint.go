// SPDX-License-Identifier: Apache-2.0

// Package checkpoint persists resumable snapshot progress per
// (source, target, scope) and invalidates it when the scope or endpoints
// change.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/serenorg/seren-replicator/pkg/scope"
)

// canonicalScope is a JSON-stable projection of scope.Scope: maps become
// sorted slices so that encoding/json (which does sort map keys for string
// keys, but QualifiedTable keys are structs) produces a deterministic byte
// sequence across processes.
type canonicalScope struct {
	DatabasesMode    scope.SetMode `json:"databases_mode"`
	DatabasesInclude []string      `json:"databases_include,omitempty"`
	DatabasesExclude []string      `json:"databases_exclude,omitempty"`
	TablesMode       scope.SetMode `json:"tables_mode"`
	TablesInclude    []string      `json:"tables_include,omitempty"`
	TablesExclude    []string      `json:"tables_exclude,omitempty"`
	SchemaOnly       []string      `json:"schema_only,omitempty"`
	RowFilters       []kv          `json:"row_filters,omitempty"`
}

type kv struct {
	Table     string `json:"table"`
	Predicate string `json:"predicate"`
}

func canonicalize(s scope.Scope) canonicalScope {
	normalized := scope.ExpandTimeFilters(s)

	c := canonicalScope{
		DatabasesMode: normalized.Databases.Mode,
		TablesMode:    normalized.Tables.Mode,
	}
	c.DatabasesInclude = sortedKeys(normalized.Databases.Include)
	c.DatabasesExclude = sortedKeys(normalized.Databases.Exclude)
	c.TablesInclude = sortedTableKeys(normalized.Tables.Include)
	c.TablesExclude = sortedTableKeys(normalized.Tables.Exclude)
	c.SchemaOnly = sortedTableKeys(normalized.SchemaOnly)

	for table, predicate := range normalized.RowFilters {
		c.RowFilters = append(c.RowFilters, kv{Table: table.String(), Predicate: predicate})
	}
	sort.Slice(c.RowFilters, func(i, j int) bool { return c.RowFilters[i].Table < c.RowFilters[j].Table })

	return c
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedTableKeys(m map[scope.QualifiedTable]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}

// Endpoint identifies a source or target connection without its credential,
// so that the fingerprint is stable across credential rotation.
type Endpoint struct {
	Kind string // "postgres", "sqlite", "mongodb", "mysql"
	Host string
	Port int
	Name string // database/file name
}

// Fingerprint computes a stable hash of the normalized scope plus the
// source and target endpoint identities (§4.6). Two calls with equal
// inputs always produce the same string.
func Fingerprint(s scope.Scope, source, target Endpoint) string {
	payload := struct {
		Scope  canonicalScope `json:"scope"`
		Source Endpoint       `json:"source"`
		Target Endpoint       `json:"target"`
	}{
		Scope:  canonicalize(s),
		Source: source,
		Target: target,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		// payload is built entirely from comparable, serializable fields;
		// a marshal failure here indicates a programming error, not
		// something a caller can recover from.
		panic("checkpoint: fingerprint payload must always marshal: " + err.Error())
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
