package migrations

import (
	"context"
	"fmt"
	"io/fs"

	"carbon-ledger/internal/storage/sqlite"
)

// RunSQLiteMigrations applies all embedded SQLite files in lexical order.
// SQLite executes one statement per call, so files are split like the
// ClickHouse ones.
func RunSQLiteMigrations(ctx context.Context, db *sqlite.DB) error {
	files, err := sqlFiles(SQLiteFS, "sqlite")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(SQLiteFS, "sqlite/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := validateNoSemicolonInStrings(string(data)); err != nil {
			return fmt.Errorf("validate migration %s: %w", file, err)
		}
		for _, stmt := range splitStatements(string(data)) {
			if err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
	}
	return nil
}
