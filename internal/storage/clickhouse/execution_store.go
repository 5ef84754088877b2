package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using ClickHouse.
type ExecutionStore struct {
	conn *Conn
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(conn *Conn) *ExecutionStore {
	return &ExecutionStore{conn: conn}
}

// Compile-time interface check.
var (
	_ storage.ExecutionStore  = (*ExecutionStore)(nil)
	_ storage.ExecutionReader = (*ExecutionStore)(nil)
)

const executionColumns = `
	run_id, source_signature, mint, direction, venue, route_kind, amount_in,
	channel, signature, bundle_id, landed, final_state, error_kind, error_message,
	started_at, finished_at`

// InsertExecution adds a run record. Returns ErrDuplicateKey if run_id exists.
func (s *ExecutionStore) InsertExecution(ctx context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would replace, but runs are append-only
	exists, err := s.exists(ctx, r.RunID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `INSERT INTO executions (` + executionColumns + `) VALUES (
		?, ?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?, ?,
		?, ?
	)`

	var landed uint8
	if r.Landed {
		landed = 1
	}
	err = s.conn.Exec(ctx, query,
		r.RunID, r.SourceSignature, r.Mint, string(r.Direction), r.Venue, string(r.RouteKind), r.AmountIn,
		r.Channel, r.Signature, r.BundleID, landed, r.FinalState, string(r.ErrorKind), r.ErrorMessage,
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetExecution(ctx context.Context, runID string) (*domain.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions FINAL
		WHERE run_id = ?
		LIMIT 1`

	r, err := scanExecution(s.conn.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return r, nil
}

// GetExecutionsByMint retrieves runs for a mint, ordered by started_at ASC.
func (s *ExecutionStore) GetExecutionsByMint(ctx context.Context, mint string) ([]*domain.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions FINAL
		WHERE mint = ?
		ORDER BY started_at ASC, run_id ASC`

	result, err := s.queryExecutions(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("get executions by mint: %w", err)
	}
	return result, nil
}

// GetExecutionsBetween retrieves runs with from <= started_at < to, ordered by started_at ASC.
func (s *ExecutionStore) GetExecutionsBetween(ctx context.Context, from, to time.Time) ([]*domain.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions FINAL
		WHERE started_at >= ? AND started_at < ?
		ORDER BY started_at ASC, run_id ASC`

	result, err := s.queryExecutions(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("get executions between: %w", err)
	}
	return result, nil
}

func (s *ExecutionStore) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*domain.ExecutionRecord, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.ExecutionRecord
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return result, nil
}

// exists checks if a run with the given ID exists.
func (s *ExecutionStore) exists(ctx context.Context, runID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM executions FINAL WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type chRow interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row chRow) (*domain.ExecutionRecord, error) {
	var (
		r                             domain.ExecutionRecord
		direction, routeKind, errKind string
		landed                        uint8
		startedAt, finishedAt         time.Time
	)
	err := row.Scan(
		&r.RunID, &r.SourceSignature, &r.Mint, &direction, &r.Venue, &routeKind, &r.AmountIn,
		&r.Channel, &r.Signature, &r.BundleID, &landed, &r.FinalState, &errKind, &r.ErrorMessage,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Direction = domain.Direction(direction)
	r.RouteKind = domain.RouteKind(routeKind)
	r.ErrorKind = domain.ErrorKind(errKind)
	r.Landed = landed == 1
	r.StartedAt = startedAt.UTC()
	r.FinishedAt = finishedAt.UTC()
	return &r, nil
}
