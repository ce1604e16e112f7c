package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These indexes enable efficient full-text search over task failure summaries
// and stage result previews, which aren't covered by Ent's schema-level indexes.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	// GIN index for task error (failure summary) full-text search
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_error_gin
		ON tasks USING gin(to_tsvector('english', COALESCE(error, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create tasks.error GIN index: %w", err)
	}

	// GIN index for stage result preview full-text search
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_stage_results_preview_gin
		ON stage_results USING gin(to_tsvector('english', COALESCE(preview, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create stage_results.preview GIN index: %w", err)
	}

	return nil
}
