// SPDX-License-Identifier: Apache-2.0

// Package tooldriver wraps invocation of the PostgreSQL client utilities
// (pg_dump, pg_dumpall, psql, pg_restore) the native snapshot path uses to
// move schema and data between PostgreSQL endpoints.
package tooldriver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/serenorg/seren-replicator/pkg/errs"
)

// ConnParams names a PostgreSQL endpoint for the purposes of invoking a
// client utility against it. Password is kept out of argv entirely; it is
// only ever written into a PasswordFile.
type ConnParams struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Driver invokes PostgreSQL client utilities with structured argv, a
// scoped password file, and TCP keepalive always enabled.
type Driver struct {
	// BinDir optionally points at a directory containing pg_dump/psql/etc;
	// empty means resolve from PATH.
	BinDir string
}

func (d *Driver) binary(name string) string {
	if d.BinDir == "" {
		return name
	}
	return d.BinDir + "/" + name
}

// Result captures a completed invocation's stderr (redacted) for
// diagnostics; stdout is streamed to the caller-provided writer and not
// buffered here.
type Result struct {
	Stderr string
}

// run executes name with args against conn, writing a scoped password file
// and the keepalive environment the spec mandates, and maps process
// failures onto the ToolFailure error kind with stderr attached and
// credentials redacted. stdin, when non-nil, is streamed to the child's
// standard input (used to load COPY data back into the target).
func (d *Driver) run(ctx context.Context, name string, args []string, conn ConnParams, stdout interface{ Write([]byte) (int, error) }, stdin interface{ Read([]byte) (int, error) }) (Result, error) {
	passFile, err := NewPasswordFile(conn.Host, conn.Port, conn.Database, conn.User, conn.Password)
	if err != nil {
		return Result{}, errs.Wrap(errs.ToolFailure, "creating password file", err)
	}
	defer passFile.Close()

	cmd := exec.CommandContext(ctx, d.binary(name), args...)
	cmd.Env = append(cmd.Env,
		"PGPASSFILE="+passFile.Path(),
		"PGHOST="+conn.Host,
		fmt.Sprintf("PGPORT=%d", conn.Port),
		"PGDATABASE="+conn.Database,
		"PGUSER="+conn.User,
		// TCP keepalive: always on, idle 60s, interval 10s, per §4.8.
		"PGKEEPALIVES=1",
		"PGKEEPALIVESIDLE=60",
		"PGKEEPALIVESINTERVAL=10",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}

	runErr := cmd.Run()
	redactedStderr := Redact(stderr.String())

	if runErr != nil {
		if ctx.Err() != nil {
			return Result{Stderr: redactedStderr}, errs.Wrap(errs.Cancelled, fmt.Sprintf("%s cancelled", name), ctx.Err())
		}
		return Result{Stderr: redactedStderr}, &errs.Error{
			Kind:    errs.ToolFailure,
			Message: fmt.Sprintf("%s exited with error: %s", name, redactedStderr),
			Err:     runErr,
		}
	}

	return Result{Stderr: redactedStderr}, nil
}

// DumpGlobals invokes pg_dumpall --globals-only, writing the SQL script to
// out. Called once per run, for the first database only (§4.4.1 step 1).
func (d *Driver) DumpGlobals(ctx context.Context, conn ConnParams, out interface{ Write([]byte) (int, error) }) (Result, error) {
	args := []string{"--globals-only", "--no-role-passwords"}
	return d.run(ctx, "pg_dumpall", args, conn, out, nil)
}

// DumpSchema invokes pg_dump restricted to the given tables, schema only.
func (d *Driver) DumpSchema(ctx context.Context, conn ConnParams, tables []string, archivePath string) (Result, error) {
	args := []string{"--schema-only", "--format=directory", "--compress=9", "--file=" + archivePath}
	for _, t := range tables {
		args = append(args, "--table="+t)
	}
	return d.run(ctx, "pg_dump", args, conn, nil, nil)
}

// DumpData invokes pg_dump for data only, for tables with no row predicate.
// Schema-only tables, and tables with a predicate (handled by
// CopyFilteredTable instead, since pg_dump has no native per-table WHERE
// clause), must be excluded by the caller before calling DumpData.
func (d *Driver) DumpData(ctx context.Context, conn ConnParams, tables []string, jobs int, archivePath string) (Result, error) {
	args := []string{
		"--data-only", "--format=directory",
		"--compress=9",
		fmt.Sprintf("--jobs=%d", jobs),
		"--file=" + archivePath,
	}
	for _, t := range tables {
		args = append(args, "--table="+t)
	}
	return d.run(ctx, "pg_dump", args, conn, nil, nil)
}

// CopyFilteredTable streams a predicate-restricted table via
// `COPY (SELECT * FROM table WHERE predicate) TO STDOUT` through psql,
// writing the text-format COPY output to out. The pipeline loads this back
// into the target with a corresponding `COPY table FROM STDIN`.
func (d *Driver) CopyFilteredTable(ctx context.Context, conn ConnParams, qualifiedTable, predicate string, out interface{ Write([]byte) (int, error) }) (Result, error) {
	statement := fmt.Sprintf(`COPY (SELECT * FROM %s WHERE %s) TO STDOUT`, qualifiedTable, predicate)
	args := []string{"--no-psqlrc", "--quiet", "--command=" + statement}
	return d.run(ctx, "psql", args, conn, out, nil)
}

// LoadCopyData runs `COPY qualifiedTable FROM STDIN` via psql against the
// target, reading the text-format COPY stream from in. This is the loading
// half of CopyFilteredTable's predicate-restricted table transfer.
func (d *Driver) LoadCopyData(ctx context.Context, conn ConnParams, qualifiedTable string, in interface{ Read([]byte) (int, error) }) (Result, error) {
	statement := fmt.Sprintf(`COPY %s FROM STDIN`, qualifiedTable)
	args := []string{"--no-psqlrc", "--quiet", "--command=" + statement}
	return d.run(ctx, "psql", args, conn, nil, in)
}

// Restore invokes pg_restore against the target, directory-format archive,
// parallel workers per the worker-pool bound.
func (d *Driver) Restore(ctx context.Context, conn ConnParams, archivePath string, jobs int) (Result, error) {
	args := []string{
		"--format=directory",
		fmt.Sprintf("--jobs=%d", jobs),
		"--no-owner", "--no-privileges",
		archivePath,
	}
	return d.run(ctx, "pg_restore", args, conn, nil, nil)
}

// RunSQL invokes psql with -c for a single statement, used for TRUNCATE
// CASCADE and other control-flow SQL the driver issues outside of a Go
// database/sql connection (so it shares the same password-file and
// keepalive plumbing as the dump/restore calls).
func (d *Driver) RunSQL(ctx context.Context, conn ConnParams, statement string) (Result, error) {
	args := []string{"--no-psqlrc", "--quiet", "--command=" + statement}
	return d.run(ctx, "psql", args, conn, nil, nil)
}
