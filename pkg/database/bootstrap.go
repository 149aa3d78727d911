package database

import (
	"context"
	"fmt"

	dbsql "flotilla/pkg/database/sql"
)

// ApplySchema executes the embedded schema file for the given service against
// an open connection. Statements are idempotent, so repeated application is
// safe.
func ApplySchema(ctx context.Context, db PostgresConn, service string) error {
	content, err := dbsql.Content.ReadFile(fmt.Sprintf("schema/%s.sql", service))
	if err != nil {
		return fmt.Errorf("failed to read embedded schema for %s: %w", service, err)
	}

	if _, err := db.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to apply schema for %s: %w", service, err)
	}

	return nil
}
