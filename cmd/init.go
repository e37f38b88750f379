// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/serenorg/seren-replicator/cmd/flags"
	"github.com/serenorg/seren-replicator/internal/connstr"
	"github.com/serenorg/seren-replicator/pkg/checkpoint"
	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/reporter"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/snapshot"
	"github.com/serenorg/seren-replicator/pkg/source"
	"github.com/serenorg/seren-replicator/pkg/source/pg"
	"github.com/serenorg/seren-replicator/pkg/tooldriver"
)

func initCmd() *cobra.Command {
	var dropExisting bool
	var resume bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Take the initial filtered snapshot of the source into the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runInit(cmd, dropExisting, resume)
			os.Exit(exitCode(err))
			return nil
		},
	}
	flags.ScopeFlags(cmd)
	cmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Discard any existing checkpoint and re-copy from scratch")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume from the last committed checkpoint, skipping completed tables")
	return cmd
}

func runInit(cmd *cobra.Command, dropExisting, resume bool) error {
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

	store, err := openCheckpointStore(ctx, targetDB)
	if err != nil {
		return err
	}

	fingerprint := checkpoint.Fingerprint(sc, endpointFor(locator.Kind, locator.Raw), targetEndpoint(flags.TargetURL()))

	if dropExisting && resume {
		return fmt.Errorf("--drop-existing and --resume are mutually exclusive")
	}
	if dropExisting {
		if !confirmf(flags.AssumeYes(), "This discards any existing checkpoint for this source/target/scope and re-copies every table. Continue?") {
			return nil
		}
		if err := store.Reset(ctx, fingerprint); err != nil {
			return err
		}
	}
	if !dropExisting && !resume {
		if cp, ok, err := store.Load(ctx, fingerprint); err == nil && ok && len(cp.CompletedDatabases) > 0 {
			if !confirmf(flags.AssumeYes(), "A checkpoint already exists with %d completed database(s). Resume it? (pass --drop-existing to start over)", len(cp.CompletedDatabases)) {
				return nil
			}
		}
	}

	report, err := runSnapshot(ctx, locator, adapter, targetDB, store, fingerprint, sc)
	if err != nil {
		return err
	}

	rep := reporterFor()
	rep.Finish(report)
	if report.Failed() {
		var kinds []string
		for _, d := range report.Databases {
			if d.Outcome == snapshot.OutcomeFailed {
				kinds = append(kinds, fmt.Sprintf("%s: %s", d.Database, d.Kind))
			}
		}
		return fmt.Errorf("init completed with failures: %v", kinds)
	}
	return nil
}

func reporterFor() reporter.Reporter {
	if flags.NonInteractive() {
		return reporter.Noop{}
	}
	return reporter.New()
}

// runSnapshot dispatches to the native PG->PG pipeline or the JSONB
// conversion pipeline depending on the detected source kind.
func runSnapshot(ctx context.Context, locator source.Locator, adapter source.Adapter, targetDB *db.RDB, store checkpoint.Store, fingerprint string, sc scope.Scope) (*snapshot.RunReport, error) {
	if locator.Kind == source.KindPostgres {
		pgAdapter, ok := adapter.(*pg.Adapter)
		if !ok {
			return nil, errs.Newf(errs.InvalidInput, "postgres locator did not resolve to a postgres adapter")
		}
		sourceConn, err := connstr.ParseConnParams(locator.Raw)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidInput, "parsing source locator", err)
		}
		targetConn, err := connstr.ParseConnParams(flags.TargetURL())
		if err != nil {
			return nil, errs.Wrap(errs.InvalidInput, "parsing target URL", err)
		}

		pipeline := &snapshot.NativePipeline{
			Source:      pgAdapter,
			SourceConn:  sourceConn,
			TargetConn:  targetConn,
			Target:      targetDB,
			Driver:      &tooldriver.Driver{},
			Checkpoint:  store,
			Fingerprint: fingerprint,
			Scope:       sc,
		}
		return pipeline.Run(ctx)
	}

	pipeline := &snapshot.JSONBPipeline{
		Source:      adapter,
		SourceKind:  sourceKindToJSONConv(locator.Kind),
		Target:      targetDB,
		Checkpoint:  store,
		Fingerprint: fingerprint,
		Scope:       sc,
	}
	return pipeline.Run(ctx)
}
