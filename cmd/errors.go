// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"

	"github.com/serenorg/seren-replicator/pkg/errs"
)

// exitCode maps err to the process exit code the CLI documents: 0 on
// success, 2-6 for the engine's classified failure kinds, 1 for anything
// unclassified.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if engineErr, ok := errs.AsEngineError(err); ok {
		return engineErr.Kind.ExitCode()
	}
	return 1
}

var errNoSourceConfigured = errors.New("no --source locator configured")
