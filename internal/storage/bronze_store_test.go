package storage

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/bronzeline-io/bronzeline/migrations"
)

// TestInsertColumnsMatchSchema guards against drift between the record insert
// statement and the two schema definitions. A column renamed in only one
// place fails every production write on that backend, so the insert list is
// cross-checked against both the PostgreSQL migration and the SQLite
// bootstrap DDL.
func TestInsertColumnsMatchSchema(t *testing.T) {
	store := &BronzeStore{table: "bronze.retail_raw"}

	columns := insertColumns(t, store.insertQuery())
	if len(columns) != 14 {
		t.Fatalf("expected 14 insert columns, got %d: %v", len(columns), columns)
	}

	t.Run("postgres migration", func(t *testing.T) {
		defined := tableColumns(t, migrationDDL(t), "bronze.retail_raw")

		for _, column := range columns {
			if !defined[column] {
				t.Errorf("insert column %q is not defined in migrated bronze.retail_raw", column)
			}
		}
	})

	t.Run("sqlite bootstrap", func(t *testing.T) {
		defined := tableColumns(t, sqliteSchema, "bronze_retail_raw")

		for _, column := range columns {
			if !defined[column] {
				t.Errorf("insert column %q is not defined in bootstrapped bronze_retail_raw", column)
			}
		}
	})
}

// insertColumns extracts the column list from an INSERT statement.
func insertColumns(t *testing.T, query string) []string {
	t.Helper()

	open := strings.Index(query, "(")
	closing := strings.Index(query, ")")

	if open < 0 || closing < open {
		t.Fatalf("malformed insert statement: %s", query)
	}

	parts := strings.Split(query[open+1:closing], ",")
	columns := make([]string, 0, len(parts))

	for _, part := range parts {
		columns = append(columns, strings.TrimSpace(part))
	}

	return columns
}

// tableColumns extracts the column names declared by a CREATE TABLE block.
func tableColumns(t *testing.T, ddl, table string) map[string]bool {
	t.Helper()

	marker := "CREATE TABLE IF NOT EXISTS " + table + " ("

	start := strings.Index(ddl, marker)
	if start < 0 {
		t.Fatalf("table %s not found in DDL", table)
	}

	body := ddl[start+len(marker):]

	end := strings.Index(body, ");")
	if end < 0 {
		t.Fatalf("unterminated CREATE TABLE for %s", table)
	}

	definitions := make([]string, 0)

	for _, line := range strings.Split(body[:end], "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		definitions = append(definitions, line)
	}

	columns := make(map[string]bool)

	for _, definition := range strings.Split(strings.Join(definitions, " "), ",") {
		fields := strings.Fields(definition)
		if len(fields) == 0 {
			continue
		}

		columns[fields[0]] = true
	}

	return columns
}

// migrationDDL concatenates every embedded up migration.
func migrationDDL(t *testing.T) string {
	t.Helper()

	names, err := migrations.List()
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}

	var ddl strings.Builder

	for _, name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		content, err := fs.ReadFile(migrations.FS(), name)
		if err != nil {
			t.Fatalf("failed to read migration %s: %v", name, err)
		}

		ddl.Write(content)
		ddl.WriteByte('\n')
	}

	return ddl.String()
}
