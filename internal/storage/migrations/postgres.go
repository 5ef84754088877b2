package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// PostgresDB is the part of a pgx pool the migrator needs.
type PostgresDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresTarget applies each migration in its own transaction.
type PostgresTarget struct {
	db PostgresDB
}

// NewPostgresTarget creates a target over db.
func NewPostgresTarget(db PostgresDB) *PostgresTarget {
	return &PostgresTarget{db: db}
}

// RunPostgresMigrations applies pending Postgres migrations to db.
func RunPostgresMigrations(ctx context.Context, db PostgresDB, logger *zap.Logger) error {
	_, err := Run(ctx, Postgres, NewPostgresTarget(db), logger)
	return err
}

// Prepare creates schema_migrations.
func (t *PostgresTarget) Prepare(ctx context.Context) error {
	_, err := t.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

// Applied returns the recorded versions.
func (t *PostgresTarget) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := t.db.Query(ctx, `SELECT version FROM schema_migrations`)
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

// Apply runs m and records it atomically.
func (t *PostgresTarget) Apply(ctx context.Context, m Migration) error {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit(ctx)
}
