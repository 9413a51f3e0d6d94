// Package migrations embeds the bronze landing schema migration files.
//
// All migrations are embedded at build time using go:embed, enabling
// zero-config deployment without external file dependencies. The embedded
// filesystem is consumed by cmd/migrator and by the shared integration test
// helper in internal/config.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filename standard: 001_migration_name.up.sql / 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// FS returns the embedded filesystem containing all migration files.
func FS() fs.FS {
	return embeddedMigrations
}

// List returns the names of all embedded migration files that conform to the
// naming standard, sorted lexically. Files with non-conforming names are
// rejected with an error to prevent silently skipped migrations.
func List() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !migrationFilenameRegex.MatchString(entry.Name()) {
			return nil, fmt.Errorf("invalid migration filename: %s", entry.Name())
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

// Validate checks that every embedded migration has a matching up/down pair.
func Validate() error {
	names, err := List()
	if err != nil {
		return err
	}

	ups := make(map[string]bool)
	downs := make(map[string]bool)

	for _, name := range names {
		parts := migrationFilenameRegex.FindStringSubmatch(name)
		key := parts[1] + "_" + parts[2]

		switch parts[3] {
		case "up":
			ups[key] = true
		case "down":
			downs[key] = true
		}
	}

	for key := range ups {
		if !downs[key] {
			return fmt.Errorf("migration %s has no down migration", key)
		}
	}

	for key := range downs {
		if !ups[key] {
			return fmt.Errorf("migration %s has no up migration", key)
		}
	}

	return nil
}
