package migrations

import (
	"context"
	"fmt"

	"strategy-advisor-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded SQL files in lexical
// order. Every migration is written to be idempotent, so reruns are
// safe.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	scripts, err := readScripts(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, err := pool.Exec(ctx, s.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.name, err)
		}
	}
	return nil
}
