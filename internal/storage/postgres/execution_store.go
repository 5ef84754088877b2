package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Compile-time interface check.
var (
	_ storage.ExecutionStore  = (*ExecutionStore)(nil)
	_ storage.ExecutionReader = (*ExecutionStore)(nil)
)

// InsertExecution adds a run record. Returns ErrDuplicateKey if run_id exists.
func (s *ExecutionStore) InsertExecution(ctx context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	// amount_in is NUMERIC(20,0) so the full u64 range fits
	query := `
		INSERT INTO executions (
			run_id, source_signature, mint, direction, venue, route_kind, amount_in,
			channel, signature, bundle_id, landed, final_state, error_kind, error_message,
			started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::numeric,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16
		)
	`
	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.SourceSignature, r.Mint, string(r.Direction), r.Venue, string(r.RouteKind), strconv.FormatUint(r.AmountIn, 10),
		r.Channel, r.Signature, r.BundleID, r.Landed, r.FinalState, string(r.ErrorKind), r.ErrorMessage,
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

const executionColumns = `
	run_id, source_signature, mint, direction, venue, route_kind, amount_in::text,
	channel, signature, bundle_id, landed, final_state, error_kind, error_message,
	started_at, finished_at`

// GetExecution retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *ExecutionStore) GetExecution(ctx context.Context, runID string) (*domain.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE run_id = $1`

	r, err := scanExecution(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return r, nil
}

// GetExecutionsByMint retrieves runs for a mint, ordered by started_at ASC.
func (s *ExecutionStore) GetExecutionsByMint(ctx context.Context, mint string) ([]*domain.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE mint = $1
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
		FROM executions
		WHERE started_at >= $1 AND started_at < $2
		ORDER BY started_at ASC, run_id ASC`

	result, err := s.queryExecutions(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("get executions between: %w", err)
	}
	return result, nil
}

func (s *ExecutionStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func scanExecution(row pgx.Row) (*domain.ExecutionRecord, error) {
	var (
		r                             domain.ExecutionRecord
		direction, routeKind, errKind string
		amount                        string
	)
	err := row.Scan(
		&r.RunID, &r.SourceSignature, &r.Mint, &direction, &r.Venue, &routeKind, &amount,
		&r.Channel, &r.Signature, &r.BundleID, &r.Landed, &r.FinalState, &errKind, &r.ErrorMessage,
		&r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	r.AmountIn, err = strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse amount_in %q: %w", amount, err)
	}
	r.Direction = domain.Direction(direction)
	r.RouteKind = domain.RouteKind(routeKind)
	r.ErrorKind = domain.ErrorKind(errKind)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return &r, nil
}
