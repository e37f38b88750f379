// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pterm/pterm"

	"github.com/serenorg/seren-replicator/cmd/flags"
	"github.com/serenorg/seren-replicator/internal/connstr"
	"github.com/serenorg/seren-replicator/pkg/checkpoint"
	"github.com/serenorg/seren-replicator/pkg/config"
	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/errs"
	"github.com/serenorg/seren-replicator/pkg/jsonconv"
	"github.com/serenorg/seren-replicator/pkg/scope"
	"github.com/serenorg/seren-replicator/pkg/source"
	"github.com/serenorg/seren-replicator/pkg/source/mongo"
	"github.com/serenorg/seren-replicator/pkg/source/mysql"
	"github.com/serenorg/seren-replicator/pkg/source/pg"
	"github.com/serenorg/seren-replicator/pkg/source/sqlite"
	"github.com/spf13/cobra"
)

// buildScope merges the optional config-file scope with the CLI-flag scope
// and expands time filters into row predicates, producing the single Scope
// every subcommand acts on.
func buildScope(cmd *cobra.Command) (scope.Scope, error) {
	configScope := scope.New()
	if path := flags.ConfigFile(); path != "" {
		var err error
		configScope, err = config.Load(path)
		if err != nil {
			return scope.Scope{}, err
		}
	}

	cliScope, err := flags.ScopeFromFlags(cmd)
	if err != nil {
		return scope.Scope{}, errs.Wrap(errs.InvalidInput, "parsing scope flags", err)
	}

	merged, err := scope.Merge(configScope, cliScope)
	if err != nil {
		return scope.Scope{}, errs.Wrap(errs.InvalidInput, "merging scope", err)
	}

	if violations := scope.Validate(merged); len(violations) > 0 {
		return scope.Scope{}, errs.Newf(errs.InvalidInput, "invalid scope: %v", violations)
	}

	return scope.ExpandTimeFilters(merged), nil
}

// openSourceAdapter resolves the --source locator to a Kind and constructs
// the matching adapter, already Connect()-ed.
func openSourceAdapter(ctx context.Context, raw string) (source.Locator, source.Adapter, error) {
	if raw == "" {
		return source.Locator{}, nil, errNoSourceConfigured
	}

	locator, err := source.Detect(raw)
	if err != nil {
		return source.Locator{}, nil, err
	}

	var adapter source.Adapter
	switch locator.Kind {
	case source.KindPostgres:
		adapter = pg.New(locator.Raw)
	case source.KindSQLite:
		adapter, err = sqlite.New(locator.Raw)
	case source.KindMongoDB:
		adapter, err = mongo.New(locator.Raw)
	case source.KindMySQL:
		adapter, err = mysql.New(locator.Raw)
	default:
		return source.Locator{}, nil, errs.Newf(errs.InvalidInput, "unsupported source kind %q", locator.Kind)
	}
	if err != nil {
		return source.Locator{}, nil, err
	}

	if err := adapter.Connect(ctx); err != nil {
		return source.Locator{}, nil, err
	}
	return locator, adapter, nil
}

// sourceKindToJSONConv maps a source.Kind to the jsonconv.SourceKind the
// JSONB pipeline uses to pick a type-conversion table. PostgreSQL sources
// never reach this function since they take the native dump/restore path.
func sourceKindToJSONConv(k source.Kind) jsonconv.SourceKind {
	switch k {
	case source.KindSQLite:
		return jsonconv.SQLite
	case source.KindMongoDB:
		return jsonconv.MongoDB
	case source.KindMySQL:
		return jsonconv.MySQL
	default:
		return ""
	}
}

// openTarget opens the target Postgres connection pool, wrapped in the
// engine's retry policy.
func openTarget(ctx context.Context) (*db.RDB, error) {
	conn, err := sql.Open("postgres", flags.TargetURL())
	if err != nil {
		return nil, errs.Wrap(errs.TargetPrecondition, "opening target connection", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.TargetPrecondition, "connecting to target", err)
	}
	return &db.RDB{Conn: conn}, nil
}

// openCheckpointStore selects the PostgreSQL- or file-backed checkpoint
// store for the current target.
func openCheckpointStore(ctx context.Context, target *db.RDB) (checkpoint.Store, error) {
	var d db.DB
	if target != nil {
		d = target
	}
	return checkpoint.Open(ctx, d, flags.StateSchema(), flags.StateDir())
}

// endpointFor builds the checkpoint fingerprint Endpoint for a locator.
func endpointFor(kind source.Kind, raw string) checkpoint.Endpoint {
	switch kind {
	case source.KindPostgres, source.KindMySQL:
		params, err := connstr.ParseConnParams(raw)
		if err != nil {
			return checkpoint.Endpoint{Kind: string(kind), Name: raw}
		}
		return checkpoint.Endpoint{Kind: string(kind), Host: params.Host, Port: params.Port, Name: params.Database}
	case source.KindSQLite:
		return checkpoint.Endpoint{Kind: string(kind), Name: raw}
	default:
		return checkpoint.Endpoint{Kind: string(kind), Name: raw}
	}
}

func targetEndpoint(targetURL string) checkpoint.Endpoint {
	params, err := connstr.ParseConnParams(targetURL)
	if err != nil {
		return checkpoint.Endpoint{Kind: "postgres", Name: targetURL}
	}
	return checkpoint.Endpoint{Kind: "postgres", Host: params.Host, Port: params.Port, Name: params.Database}
}

func confirmf(assumeYes bool, format string, args ...any) bool {
	if assumeYes {
		return true
	}
	fmt.Printf(format+"\n", args...)
	ok, _ := pterm.DefaultInteractiveConfirm.Show()
	return ok
}
