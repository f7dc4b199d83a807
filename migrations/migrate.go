package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration sets, one per service database.
const (
	Order     = "order"
	Payment   = "payment"
	Inventory = "inventory"
)

//go:embed order/*.sql payment/*.sql inventory/*.sql
var migrationFiles embed.FS

const advisoryLockID int64 = 704512339

// Apply runs the embedded SQL files of set in filename order. Applied files
// are recorded in schema_migrations as "<set>/<file>".
func Apply(ctx context.Context, pool *pgxpool.Pool, set string) error {
	entries, err := fs.ReadDir(migrationFiles, set)
	if err != nil {
		return fmt.Errorf("read migrations %s: %w", set, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockID)
	}()

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, name := range names {
		id := path.Join(set, name)
		var applied bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, id).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", id, err)
		}
		if applied {
			continue
		}

		sqlBytes, err := migrationFiles.ReadFile(id)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", id, err)
		}
		sql := strings.TrimSpace(string(sqlBytes))
		if sql == "" {
			continue
		}
		if _, err := conn.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", id, err)
		}
		if _, err := conn.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, id); err != nil {
			return fmt.Errorf("record migration %s: %w", id, err)
		}
	}
	return nil
}
