// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"fmt"

	"github.com/serenorg/seren-replicator/pkg/db"
)

// Open selects the checkpoint backend transparently: a PostgreSQL
// metadata table in the target database when target is writable,
// falling back to a local JSON file under stateDir otherwise (e.g. a
// validate-only run against a read-only target).
func Open(ctx context.Context, target db.DB, schemaName, stateDir string) (Store, error) {
	if target != nil {
		store, err := NewPGStore(ctx, target, schemaName)
		if err == nil {
			return store, nil
		}
	}
	store, err := NewFileStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	return store, nil
}
