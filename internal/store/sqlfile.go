package store

import (
	"context"
	"database/sql"
	"os"

	"github.com/rs/zerolog"
)

// ExecSQLFiles executes SQL files in order
func ExecSQLFiles(ctx context.Context, db *sql.DB, log zerolog.Logger, filenames ...string) error {
	for _, filename := range filenames {
		if err := ExecSQLFile(ctx, db, log, filename); err != nil {
			return err
		}
	}
	return nil
}

// ExecSQLFile executes the SQL statements of a file as one batch
func ExecSQLFile(ctx context.Context, db *sql.DB, log zerolog.Logger, filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return Error.New("failed to read SQL file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(content)); err != nil {
		return Error.New("failed to execute %s: %w", filename, err)
	}

	log.Info().Str("file", filename).Msg("executed SQL file")
	return nil
}
