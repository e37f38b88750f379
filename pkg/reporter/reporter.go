// SPDX-License-Identifier: Apache-2.0

// Package reporter renders run results to the terminal. It is
// presentation only: the snapshot pipeline and coordinator import neither
// pterm nor this package, so the core stays testable without a terminal
// attached. The init command calls only Finish; no command calls the
// per-database and per-table progress methods.
package reporter

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/serenorg/seren-replicator/pkg/snapshot"
)

// Reporter receives progress events during a run.
type Reporter interface {
	StartDatabase(name string)
	StartTable(database, table string)
	CompleteTable(database, table string, rows int64)
	CompleteDatabase(result snapshot.DatabaseResult)
	Warn(msg string, args ...any)
	Finish(report *snapshot.RunReport)
}

// ptermReporter drives a spinner for the current database and a progress
// bar for its tables, matching the interactive feedback style
// pkg/migrations/pterm_create.go uses for prompts.
type ptermReporter struct {
	spinner  *pterm.SpinnerPrinter
	progress *pterm.ProgressbarPrinter
}

// New returns a Reporter that renders to the terminal via pterm.
func New() Reporter {
	return &ptermReporter{}
}

func (r *ptermReporter) StartDatabase(name string) {
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("snapshotting database %q", name))
	r.spinner = spinner
}

func (r *ptermReporter) StartTable(database, table string) {
	if r.progress == nil {
		bar, _ := pterm.DefaultProgressbar.WithTitle(fmt.Sprintf("%s tables", database)).Start()
		r.progress = bar
	}
}

func (r *ptermReporter) CompleteTable(database, table string, rows int64) {
	if r.progress != nil {
		r.progress.Increment()
	}
	pterm.Debug.Printfln("%s.%s: %d rows copied", database, table, rows)
}

func (r *ptermReporter) CompleteDatabase(result snapshot.DatabaseResult) {
	if r.progress != nil {
		_, _ = r.progress.Stop()
		r.progress = nil
	}
	if r.spinner == nil {
		return
	}
	switch result.Outcome {
	case snapshot.OutcomeCommitted:
		r.spinner.Success(fmt.Sprintf("%s committed (%d rows, %s)", result.Database, result.Rows, result.Elapsed))
	case snapshot.OutcomeSkipped:
		r.spinner.Warning(fmt.Sprintf("%s skipped", result.Database))
	default:
		r.spinner.Fail(fmt.Sprintf("%s failed: %s", result.Database, result.Kind))
	}
	r.spinner = nil
}

func (r *ptermReporter) Warn(msg string, args ...any) {
	pterm.Warning.Printfln(msg, args...)
}

func (r *ptermReporter) Finish(report *snapshot.RunReport) {
	if report.Failed() {
		pterm.Error.Printfln("run completed with failures in %s", report.Elapsed)
		return
	}
	pterm.Success.Printfln("run committed in %s", report.Elapsed)
}

// Noop discards every event, used in non-interactive mode and in tests.
type Noop struct{}

func (Noop) StartDatabase(name string)                        {}
func (Noop) StartTable(database, table string)                {}
func (Noop) CompleteTable(database, table string, rows int64) {}
func (Noop) CompleteDatabase(result snapshot.DatabaseResult)  {}
func (Noop) Warn(msg string, args ...any)                     {}
func (Noop) Finish(report *snapshot.RunReport)                {}
