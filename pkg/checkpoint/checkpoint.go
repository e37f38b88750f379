// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"time"

	"github.com/serenorg/seren-replicator/pkg/scope"
)

// Checkpoint is the durable record of progress for one scope fingerprint.
type Checkpoint struct {
	ScopeFingerprint   string
	CompletedDatabases []string
	CompletedTables    []scope.QualifiedTable
	LastUpdated        time.Time
}

// IsDatabaseComplete reports whether database has already committed.
func (c Checkpoint) IsDatabaseComplete(database string) bool {
	for _, d := range c.CompletedDatabases {
		if d == database {
			return true
		}
	}
	return false
}

// IsTableComplete reports whether table has already committed.
func (c Checkpoint) IsTableComplete(table scope.QualifiedTable) bool {
	for _, t := range c.CompletedTables {
		if t == table {
			return true
		}
	}
	return false
}

// Store persists and retrieves checkpoints. Implementations must make
// writes durable before the corresponding work is reported complete
// (write-then-announce).
type Store interface {
	// Load returns the checkpoint for fingerprint, or a zero-value
	// Checkpoint with ok=false if none exists or the stored fingerprint no
	// longer matches (the caller always passes the freshly computed
	// fingerprint, so a stored checkpoint under a different fingerprint is
	// treated as absent and will be overwritten on the next commit).
	Load(ctx context.Context, fingerprint string) (cp Checkpoint, ok bool, err error)

	// CommitDatabase durably records that database has committed under
	// fingerprint.
	CommitDatabase(ctx context.Context, fingerprint, database string) error

	// CommitTable durably records that table has committed under fingerprint.
	CommitTable(ctx context.Context, fingerprint string, table scope.QualifiedTable) error

	// Reset clears any checkpoint stored under fingerprint.
	Reset(ctx context.Context, fingerprint string) error
}
