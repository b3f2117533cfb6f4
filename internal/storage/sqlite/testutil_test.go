package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB opens a fresh database file and applies the schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "ledger.db"))
}

// openTestDB opens the database at path and applies the schema.
func openTestDB(t *testing.T, path string) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := filepath.Join(findProjectRoot(t), "internal", "storage", "migrations", "sqlite")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err, "failed to read migrations directory")

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(dir, file))
		require.NoError(t, err)
		for _, stmt := range strings.Split(string(data), ";") {
			if strings.TrimSpace(stmt) == "" || isComment(stmt) {
				continue
			}
			require.NoError(t, db.Exec(ctx, stmt), "failed to execute migration: %s", file)
		}
	}
	return db
}

func isComment(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// findProjectRoot walks up from current directory to find go.mod.
func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}
