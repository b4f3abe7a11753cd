// SPDX-License-Identifier: Apache-2.0

// Package migrations carries the schema for every supported store driver.
// Files are applied in name order and are never edited once released.
package migrations

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

//go:embed postgres/*.sql sqlite/*.sql
var embeddedFiles embed.FS

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// File is one migration script. Checksum is the hex sha256 of SQL and is
// recorded alongside the name when the file is applied.
type File struct {
	Name     string
	SQL      string
	Checksum string
}

// Ordered returns the dialect's migrations sorted by file name.
func Ordered(dialect Dialect) ([]File, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unknown migration dialect %q", dialect)
	}

	dir := string(dialect)
	entries, err := fs.ReadDir(embeddedFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", dialect, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		body, err := embeddedFiles.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(body)
		files = append(files, File{
			Name:     entry.Name(),
			SQL:      string(body),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(files, func(a, b File) int {
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

// ErrChecksumMismatch reports an applied migration whose embedded body has
// changed since it ran.
type ErrChecksumMismatch struct {
	Name     string
	Applied  string
	Embedded string
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("migration %s changed after it was applied (applied %s, embedded %s)",
		e.Name, short(e.Applied), short(e.Embedded))
}

// Verify checks f against the checksum recorded when it was applied. An
// empty recorded checksum is accepted.
func (f File) Verify(recorded string) error {
	if recorded == "" || recorded == f.Checksum {
		return nil
	}
	return &ErrChecksumMismatch{Name: f.Name, Applied: recorded, Embedded: f.Checksum}
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
