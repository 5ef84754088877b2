package migrations

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickhouseDB is the part of a ClickHouse connection the migrator needs.
type ClickhouseDB interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

// ClickhouseTarget applies migrations one statement at a time. ClickHouse has
// no DDL transactions, so a failed migration is retried from its first
// statement; every statement must be idempotent.
type ClickhouseTarget struct {
	db ClickhouseDB
}

// NewClickhouseTarget creates a target over db.
func NewClickhouseTarget(db ClickhouseDB) *ClickhouseTarget {
	return &ClickhouseTarget{db: db}
}

// RunClickhouseMigrations applies pending ClickHouse migrations to db.
// The database itself must exist; see clickhouse.EnsureDatabase.
func RunClickhouseMigrations(ctx context.Context, db ClickhouseDB, logger *zap.Logger) error {
	_, err := Run(ctx, Clickhouse, NewClickhouseTarget(db), logger)
	return err
}

// Prepare creates schema_migrations.
func (t *ClickhouseTarget) Prepare(ctx context.Context) error {
	return t.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    String,
			applied_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(applied_at)
		ORDER BY version`)
}

// Applied returns the recorded versions.
func (t *ClickhouseTarget) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := t.db.Query(ctx, `SELECT version FROM schema_migrations FINAL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Apply runs each statement of m, then records its version.
func (t *ClickhouseTarget) Apply(ctx context.Context, m Migration) error {
	for _, stmt := range m.Statements {
		if err := t.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return t.db.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version)
}
