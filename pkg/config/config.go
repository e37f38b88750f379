// SPDX-License-Identifier: Apache-2.0

// Package config loads the TOML configuration file that supplies one of
// the three scope inputs (alongside CLI flags and interactive selection)
// merged by pkg/scope. Unknown keys are rejected outright rather than
// silently ignored.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/serenorg/seren-replicator/pkg/scope"
)

// TableFilter is one entry of a database section's table_filters list.
type TableFilter struct {
	Table  string `toml:"table"`
	Schema string `toml:"schema"`
	Where  string `toml:"where"`
}

// TimeFilterEntry is one entry of a database section's time_filters list.
type TimeFilterEntry struct {
	Table  string `toml:"table"`
	Schema string `toml:"schema"`
	Column string `toml:"column"`
	Last   string `toml:"last"`
}

// DatabaseSection is one [databases.<name>] table in the config file.
type DatabaseSection struct {
	SchemaOnly   []string          `toml:"schema_only"`
	TableFilters []TableFilter     `toml:"table_filters"`
	TimeFilters  []TimeFilterEntry `toml:"time_filters"`
}

// File is the top-level shape of the TOML configuration file.
type File struct {
	Databases map[string]DatabaseSection `toml:"databases"`
}

// Load parses path as TOML into a File, rejecting any key the schema above
// does not declare, then converts it into a scope.Scope.
func Load(path string) (scope.Scope, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return scope.Scope{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return scope.Scope{}, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}
	return f.toScope()
}

func (f File) toScope() (scope.Scope, error) {
	out := scope.New()

	for dbName, section := range f.Databases {
		for _, tableName := range section.SchemaOnly {
			out.SchemaOnly[scope.NewQualifiedTable(dbName, "public", tableName)] = struct{}{}
		}
		for _, tf := range section.TableFilters {
			schemaName := tf.Schema
			if schemaName == "" {
				schemaName = "public"
			}
			t := scope.NewQualifiedTable(dbName, schemaName, tf.Table)
			if tf.Where == "" {
				return scope.Scope{}, fmt.Errorf("table_filters entry for %s has no where clause", t)
			}
			out.RowFilters[t] = tf.Where
		}
		for _, tf := range section.TimeFilters {
			schemaName := tf.Schema
			if schemaName == "" {
				schemaName = "public"
			}
			t := scope.NewQualifiedTable(dbName, schemaName, tf.Table)
			interval, err := parseLast(tf.Last)
			if err != nil {
				return scope.Scope{}, fmt.Errorf("time_filters entry for %s: %w", t, err)
			}
			out.TimeFilters[t] = scope.TimeFilter{Column: tf.Column, Interval: interval}
		}
	}

	if violations := scope.Validate(out); len(violations) > 0 {
		return scope.Scope{}, fmt.Errorf("config file scope is invalid: %v", violations)
	}
	return out, nil
}

// parseLast parses a "<count> <unit>" string, e.g. "90 days", into a
// scope.Interval.
func parseLast(s string) (scope.Interval, error) {
	var count int
	var unit string
	if _, err := fmt.Sscanf(s, "%d %s", &count, &unit); err != nil {
		return scope.Interval{}, fmt.Errorf("invalid duration %q, expected \"<count> <unit>\"", s)
	}
	return scope.Interval{Count: count, Unit: scope.Unit(unit)}, nil
}
