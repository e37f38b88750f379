// SPDX-License-Identifier: Apache-2.0

package tooldriver

import (
	"fmt"
	"os"
)

// PasswordFile is a temporary, owner-only-readable file holding a single
// PostgreSQL password, in the format libpq's PGPASSFILE expects
// (hostname:port:database:username:password). It is removed on Close,
// which callers must invoke via defer on every exit path, including
// cancellation.
type PasswordFile struct {
	path string
}

// NewPasswordFile writes a password file for one (host, port, database,
// user, password) tuple. The file is created with mode 0600 before any
// content is written, so the password is never briefly world-readable.
func NewPasswordFile(host string, port int, database, user, password string) (*PasswordFile, error) {
	f, err := os.CreateTemp("", "seren-pgpass-*")
	if err != nil {
		return nil, fmt.Errorf("creating password file: %w", err)
	}

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("restricting password file permissions: %w", err)
	}

	line := fmt.Sprintf("%s:%d:%s:%s:%s\n", escapePgpass(host), port, escapePgpass(database), escapePgpass(user), escapePgpass(password))
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing password file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("closing password file: %w", err)
	}

	return &PasswordFile{path: f.Name()}, nil
}

// Path returns the filesystem path to the password file, suitable for the
// PGPASSFILE environment variable.
func (p *PasswordFile) Path() string { return p.path }

// Close removes the password file. Safe to call more than once.
func (p *PasswordFile) Close() error {
	if p == nil || p.path == "" {
		return nil
	}
	err := os.Remove(p.path)
	p.path = ""
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing password file: %w", err)
	}
	return nil
}

// escapePgpass escapes ':' and '\' per the .pgpass file format.
func escapePgpass(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ':' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
