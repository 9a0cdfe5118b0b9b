package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)

// Migrate aplica o schema (idempotente, CREATE ... IF NOT EXISTS)
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
