// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/serenorg/seren-replicator/cmd/flags"
	"github.com/serenorg/seren-replicator/internal/connstr"
	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/replication"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/snapshot"
	"github.com/serenorg/seren-replicator/pkg/source"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check scope and source/target preconditions without copying any data",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runValidate(cmd)
			os.Exit(exitCode(err))
			return nil
		},
	}
	flags.ScopeFlags(cmd)
	return cmd
}

func runValidate(cmd *cobra.Command) error {
	ctx := cmd.Context()

	sc, err := buildScope(cmd)
	if err != nil {
		return err
	}

	locator, adapter, err := openSourceAdapter(ctx, flags.SourceLocator())
	if err != nil {
		return err
	}
	defer adapter.Close()

	databases, err := adapter.ListDatabases(ctx)
	if err != nil {
		return err
	}

	var cascadeCount int
	for _, database := range databases {
		if !sc.Databases.Admits(database) {
			continue
		}
		plans, cascades, err := snapshot.Plan(ctx, adapter, database, sc)
		if err != nil {
			return err
		}
		fmt.Printf("database %q:\n", database)
		for _, p := range plans {
			fmt.Printf("  %-11s %s\n", decisionLabel(p.Decision), p.Table)
		}
		for _, c := range cascades {
			cascadeCount++
			fmt.Printf("  warning: skipping %s would cascade into %v\n", c.Table, c.ConflictingTables)
		}
	}

	if locator.Kind == source.KindPostgres {
		if err := validateReplicationPreconditions(ctx, locator.Raw, sc); err != nil {
			return err
		}
	}

	if cascadeCount > 0 {
		return errs.Newf(errs.Cascade, "%d table(s) would require an out-of-scope cascade", cascadeCount)
	}
	return nil
}

// validateReplicationPreconditions opens dedicated SQL connections to the
// source and target (separate from the read-only Adapter, since the
// Coordinator issues publication/subscription DDL) and runs
// Coordinator.Validate, printing its diagnosis.
func validateReplicationPreconditions(ctx context.Context, sourceRaw string, sc scope.Scope) error {
	sourceDB, err := sql.Open("postgres", sourceRaw)
	if err != nil {
		return errs.Wrap(errs.SourcePrecondition, "opening source for replication validation", err)
	}
	defer sourceDB.Close()

	targetDB, err := openTarget(ctx)
	if err != nil {
		return err
	}
	defer targetDB.Close()

	sourceConn, err := connstr.ParseConnParams(sourceRaw)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "parsing source locator", err)
	}
	targetConn, err := connstr.ParseConnParams(flags.TargetURL())
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "parsing target URL", err)
	}

	coordinator := &replication.Coordinator{
		Source:     sourceDB,
		Target:     db.DB(targetDB),
		SourceConn: sourceConn,
		TargetConn: targetConn,
		Scope:      sc,
	}

	diagnosis, err := coordinator.Validate(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("replication: source pg%d, target pg%d\n", diagnosis.SourceVersion, diagnosis.TargetVersion)
	if !diagnosis.OK {
		for _, p := range diagnosis.Problems {
			fmt.Printf("  problem: %s\n", p)
		}
		return errs.Newf(errs.SourcePrecondition, "replication preconditions not met: %v", diagnosis.Problems)
	}
	return nil
}

func decisionLabel(d scope.Decision) string {
	switch d.Kind {
	case scope.DecisionCopy:
		if d.Predicate != "" {
			return "copy+filter"
		}
		return "copy"
	case scope.DecisionSchemaOnly:
		return "schema-only"
	default:
		return "skip"
	}
}
