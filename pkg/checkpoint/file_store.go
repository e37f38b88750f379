// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/serenorg/seren-replicator/pkg/scope"
)

// fileRecord is the on-disk JSON representation of a Checkpoint, using
// strings for tables so the format in §3/§6 is human-readable.
type fileRecord struct {
	ScopeFingerprint   string    `json:"scope_fingerprint"`
	CompletedDatabases []string  `json:"completed_databases"`
	CompletedTables    []string  `json:"completed_tables"`
	LastUpdated        time.Time `json:"last_updated"`
}

// FileStore persists checkpoints as JSON files under a state directory,
// one file per scope fingerprint, for use when the target database cannot
// be written to (e.g. `validate`).
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore ensures dir exists and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating checkpoint state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(fingerprint string) string {
	return filepath.Join(f.dir, fingerprint+".json")
}

func (f *FileStore) Load(_ context.Context, fingerprint string) (Checkpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("reading checkpoint file: %w", err)
	}

	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return Checkpoint{}, false, fmt.Errorf("decoding checkpoint file: %w", err)
	}

	return Checkpoint{
		ScopeFingerprint:   rec.ScopeFingerprint,
		CompletedDatabases: rec.CompletedDatabases,
		CompletedTables:    parseTableStrings(rec.CompletedTables),
		LastUpdated:        rec.LastUpdated,
	}, true, nil
}

func (f *FileStore) CommitDatabase(ctx context.Context, fingerprint, database string) error {
	return f.mutate(ctx, fingerprint, func(rec *fileRecord) {
		if !containsString(rec.CompletedDatabases, database) {
			rec.CompletedDatabases = append(rec.CompletedDatabases, database)
		}
	})
}

func (f *FileStore) CommitTable(ctx context.Context, fingerprint string, table scope.QualifiedTable) error {
	return f.mutate(ctx, fingerprint, func(rec *fileRecord) {
		if !containsString(rec.CompletedTables, table.String()) {
			rec.CompletedTables = append(rec.CompletedTables, table.String())
		}
	})
}

func (f *FileStore) Reset(_ context.Context, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(fingerprint)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checkpoint file: %w", err)
	}
	return nil
}

// mutate loads the record (or starts a fresh one), applies fn, and writes
// the result atomically via a temp-file rename so a crash mid-write never
// leaves a truncated checkpoint (write-then-announce, §4.6).
func (f *FileStore) mutate(_ context.Context, fingerprint string, fn func(*fileRecord)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := fileRecord{ScopeFingerprint: fingerprint}
	if b, err := os.ReadFile(f.path(fingerprint)); err == nil {
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("decoding checkpoint file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading checkpoint file: %w", err)
	}

	fn(&rec)
	rec.LastUpdated = time.Now()

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint file: %w", err)
	}

	tmp := f.path(fingerprint) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, f.path(fingerprint)); err != nil {
		return fmt.Errorf("committing checkpoint file: %w", err)
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
