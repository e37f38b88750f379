// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/serenorg/seren-replicator/cmd/flags"
	"github.com/serenorg/seren-replicator/internal/connstr"
	"github.com/serenorg/seren-replicator/pkg/checkpoint"
	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/replication"
	"github.com/serenorg/seren-replicator/pkg/scheduler"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/snapshot"
	"github.com/serenorg/seren-replicator/pkg/source"
)

func syncCmd() *cobra.Command {
	var refreshInterval time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep the target in sync with the source after init",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runSync(cmd, refreshInterval)
			os.Exit(exitCode(err))
			return nil
		},
	}
	flags.ScopeFlags(cmd)
	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", scheduler.DefaultInterval, "How often to re-snapshot a JSONB-path source (ignored for postgres sources, which stream continuously)")
	return cmd
}

// runSync dispatches to continuous logical-replication streaming for a
// PostgreSQL source, or the periodic refresh scheduler for every other
// source kind (§4.7).
func runSync(cmd *cobra.Command, refreshInterval time.Duration) error {
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

	targetDB, err := openTarget(ctx)
	if err != nil {
		return err
	}
	defer targetDB.Close()

	if locator.Kind == source.KindPostgres {
		return syncNative(ctx, locator, targetDB, sc)
	}

	store, err := openCheckpointStore(ctx, targetDB)
	if err != nil {
		return err
	}
	fingerprint := checkpoint.Fingerprint(sc, endpointFor(locator.Kind, locator.Raw), targetEndpoint(flags.TargetURL()))

	pipeline := &snapshot.JSONBPipeline{
		Source:      adapter,
		SourceKind:  sourceKindToJSONConv(locator.Kind),
		Target:      targetDB,
		Checkpoint:  store,
		Fingerprint: fingerprint,
		Scope:       sc,
	}
	sched := &scheduler.Scheduler{
		Pipeline:  pipeline,
		Target:    targetDB,
		Interval:  refreshInterval,
		Namespace: flags.StateSchema(),
	}
	fmt.Printf("refreshing every %s (advisory-locked on schema %q)\n", sched.Interval, flags.StateSchema())
	return sched.Run(ctx)
}

// syncNative drives a PG->PG ReplicationLink to Streaming: Validate the
// preconditions, SetUp the publication/subscription pair restricted to the
// tables the scope admits for data copy, then poll Status until table-sync
// completes or ctx is cancelled.
func syncNative(ctx context.Context, locator source.Locator, targetDB *db.RDB, sc scope.Scope) error {
	sourceDB, err := sql.Open("postgres", locator.Raw)
	if err != nil {
		return errs.Wrap(errs.SourcePrecondition, "opening source for replication", err)
	}
	defer sourceDB.Close()

	sourceConn, err := connstr.ParseConnParams(locator.Raw)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "parsing source locator", err)
	}
	targetConn, err := connstr.ParseConnParams(flags.TargetURL())
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "parsing target URL", err)
	}
	if sourceConn.Password != "" {
		fmt.Println("warning: source locator carries a password; PostgreSQL will persist it in pg_subscription.subconninfo. Prefer a password-free source locator with a target-side password file.")
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
	if !diagnosis.OK {
		return errs.Newf(errs.SourcePrecondition, "replication preconditions not met: %v", diagnosis.Problems)
	}

	databases, err := listCopyTables(ctx, sourceDB, sc)
	if err != nil {
		return err
	}

	link, err := coordinator.SetUp(ctx, databases)
	if err != nil {
		return err
	}

	fmt.Printf("publication %s / subscription %s set up, waiting for initial table sync\n", replication.PublicationName, replication.SubscriptionName)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errs.New(errs.Cancelled, "sync cancelled")
		case <-ticker.C:
			status, err := coordinator.Status(ctx, link)
			if err != nil {
				return err
			}
			fmt.Printf("state=%s tables_remaining=%d lag_bytes=%d lag=%s\n", status.State, status.TablesRemaining, status.LagBytes, status.LagTime)
			if status.State == replication.Streaming {
				fmt.Println("streaming")
				return nil
			}
		}
	}
}

// listCopyTables resolves the tables the scope admits for data copy
// (Copy decisions, with or without a predicate) in the database sourceDB is
// connected to, for use as the publication's FOR TABLE list. Other
// databases on the source server are not listed.
func listCopyTables(ctx context.Context, sourceDB *sql.DB, sc scope.Scope) ([]scope.QualifiedTable, error) {
	rows, err := sourceDB.QueryContext(ctx, `
		SELECT schemaname, tablename FROM pg_tables
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`)
	if err != nil {
		return nil, errs.Wrap(errs.SourcePrecondition, "listing source tables", err)
	}
	defer rows.Close()

	var tables []scope.QualifiedTable
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, err
		}
		t := scope.QualifiedTable{Schema: schemaName, Table: tableName}
		if decision := scope.AppliesTo(sc, t); decision.Kind == scope.DecisionCopy {
			tables = append(tables, t)
		}
	}
	return tables, rows.Err()
}
