// SPDX-License-Identifier: Apache-2.0

package scope

import "fmt"

// Violation is a single Validate failure.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Decision is the outcome of AppliesTo for a single table.
type Decision struct {
	// Kind is one of "copy", "schema_only", "skip".
	Kind      DecisionKind
	Predicate string // set only when Kind == Copy and a predicate applies
}

type DecisionKind int

const (
	DecisionSkip DecisionKind = iota
	DecisionSchemaOnly
	DecisionCopy
)

// Merge combines a config-file-derived scope with a CLI-flag-derived scope.
// CLI flags take precedence per field; for set-valued fields (SchemaOnly,
// RowFilters, TimeFilters) the CLI scope adds to or overrides individual
// entries by QualifiedTable key rather than replacing the whole map.
func Merge(configScope, cliScope Scope) (Scope, error) {
	out := configScope.Clone()

	if !isZeroSet(cliScope.Databases) {
		out.Databases = cliScope.Databases
	}
	if !isZeroSet(cliScope.Tables) {
		out.Tables = cliScope.Tables
	}

	for t := range cliScope.SchemaOnly {
		out.SchemaOnly[t] = struct{}{}
	}
	for t, predicate := range cliScope.RowFilters {
		out.RowFilters[t] = predicate
	}
	for t, tf := range cliScope.TimeFilters {
		out.TimeFilters[t] = tf
	}

	if err := out.Databases.Validate(); err != nil {
		return Scope{}, fmt.Errorf("databases: %w", err)
	}
	if err := out.Tables.Validate(); err != nil {
		return Scope{}, fmt.Errorf("tables: %w", err)
	}

	return out, nil
}

// isZeroSet reports whether a SetSpec carries no override information (i.e.
// came from an unset CLI flag group and should not shadow the config scope).
func isZeroSet[T comparable](s SetSpec[T]) bool {
	return s.Mode == IncludeAll && len(s.Include) == 0 && len(s.Exclude) == 0
}

// Validate enforces invariants 1, 2 and 5 (the PG15-for-predicates check is
// performed by the caller, which knows the source's major version; Validate
// only flags that predicates exist so the caller can gate on version).
func Validate(s Scope) []Violation {
	var violations []Violation

	if err := s.Databases.Validate(); err != nil {
		violations = append(violations, Violation{"databases", err.Error()})
	}
	if err := s.Tables.Validate(); err != nil {
		violations = append(violations, Violation{"tables", err.Error()})
	}

	for t := range s.SchemaOnly {
		if err := ValidateQualifiedTable(t); err != nil {
			violations = append(violations, Violation{"schema_only", fmt.Sprintf("%s: %v", t, err)})
		}
	}
	for t := range s.RowFilters {
		if err := ValidateQualifiedTable(t); err != nil {
			violations = append(violations, Violation{"row_filters", fmt.Sprintf("%s: %v", t, err)})
		}
	}
	for t, tf := range s.TimeFilters {
		if err := ValidateQualifiedTable(t); err != nil {
			violations = append(violations, Violation{"time_filters", fmt.Sprintf("%s: %v", t, err)})
		}
		if err := ValidateIdentifier(tf.Column); err != nil {
			violations = append(violations, Violation{"time_filters", fmt.Sprintf("%s.%s: %v", t, tf.Column, err)})
		}
		if err := tf.Interval.Validate(); err != nil {
			violations = append(violations, Violation{"time_filters", fmt.Sprintf("%s: %v", t, err)})
		}
	}

	return violations
}

// HasRowPredicates reports whether the scope has any row or time filter,
// used to gate the PostgreSQL-15 requirement for predicate publications
// (invariant 5).
func HasRowPredicates(s Scope) bool {
	return len(s.RowFilters) > 0 || len(s.TimeFilters) > 0
}

// ExpandTimeFilters rewrites every time filter into an equivalent row filter
// predicate (ANDed with any existing row filter for that table), then
// returns a scope with TimeFilters cleared. Idempotent: calling it twice
// yields the same result as calling it once.
func ExpandTimeFilters(s Scope) Scope {
	out := s.Clone()
	for t, tf := range out.TimeFilters {
		predicate := tf.Predicate()
		if existing, ok := out.RowFilters[t]; ok && existing != "" {
			predicate = fmt.Sprintf("(%s) AND (%s)", existing, predicate)
		}
		out.RowFilters[t] = predicate
	}
	out.TimeFilters = map[QualifiedTable]TimeFilter{}
	return out
}

// AppliesTo computes the replication Decision for a single table, applying
// the precedence Skip > SchemaOnly > Copy(predicate) > Copy(no predicate).
// Callers are expected to have already run ExpandTimeFilters so that
// RowFilters already reflects any time-filter contribution.
func AppliesTo(s Scope, t QualifiedTable) Decision {
	if !s.Tables.Admits(t) {
		return Decision{Kind: DecisionSkip}
	}
	if t.Database != "" && !s.Databases.Admits(t.Database) {
		return Decision{Kind: DecisionSkip}
	}
	if _, ok := s.SchemaOnly[t]; ok {
		return Decision{Kind: DecisionSchemaOnly}
	}
	if predicate, ok := s.RowFilters[t]; ok {
		return Decision{Kind: DecisionCopy, Predicate: predicate}
	}
	return Decision{Kind: DecisionCopy}
}
