// Package sqlite stores the audit trail in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/idhash"
	"solana-copy-trader/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_events (
	event_id    TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	slot        INTEGER NOT NULL,
	event_key   TEXT NOT NULL DEFAULT '',
	received_ms INTEGER NOT NULL,
	payload     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_events_slot ON raw_events (slot, received_ms);

CREATE TABLE IF NOT EXISTS trade_signals (
	signal_id        TEXT PRIMARY KEY,
	source_signature TEXT NOT NULL,
	slot             INTEGER NOT NULL,
	mint             TEXT NOT NULL,
	direction        TEXT NOT NULL,
	venue            TEXT NOT NULL,
	venue_program    TEXT NOT NULL DEFAULT '',
	base_delta       INTEGER NOT NULL,
	instrument_delta INTEGER NOT NULL,
	decimals         INTEGER NOT NULL,
	detected_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_signals_mint ON trade_signals (mint, slot);

CREATE TABLE IF NOT EXISTS executions (
	run_id           TEXT PRIMARY KEY,
	source_signature TEXT NOT NULL,
	mint             TEXT NOT NULL DEFAULT '',
	direction        TEXT NOT NULL DEFAULT '',
	venue            TEXT NOT NULL DEFAULT '',
	route_kind       TEXT NOT NULL DEFAULT '',
	amount_in        TEXT NOT NULL DEFAULT '0',
	channel          TEXT NOT NULL DEFAULT '',
	signature        TEXT NOT NULL DEFAULT '',
	bundle_id        TEXT NOT NULL DEFAULT '',
	landed           INTEGER NOT NULL DEFAULT 0,
	final_state      TEXT NOT NULL,
	error_kind       TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	started_ms       INTEGER NOT NULL,
	finished_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_mint ON executions (mint, started_ms);
CREATE INDEX IF NOT EXISTS idx_executions_started ON executions (started_ms);
`

// Store implements every audit interface on one SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Sink            = (*Store)(nil)
	_ storage.SignalReader    = (*Store)(nil)
	_ storage.ExecutionReader = (*Store)(nil)
	_ storage.RawEventReader  = (*Store)(nil)
)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the pipeline writes at most a few rows per run
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRawEvent adds a feed event. Returns ErrDuplicateKey if its event_id exists.
func (s *Store) InsertRawEvent(ctx context.Context, ev *domain.RawUpdateEvent) error {
	if ev == nil || ev.Kind == "" {
		return storage.ErrInvalidInput
	}
	key := ""
	switch {
	case ev.Tx != nil:
		key = ev.Tx.Signature
	case ev.Account != nil:
		key = ev.Account.Pubkey
	}
	payload := ev.Payload
	if payload == nil {
		payload = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_events (event_id, kind, slot, event_key, received_ms, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		idhash.EventID(ev), string(ev.Kind), ev.Slot, key, ev.ReceivedAt.UnixMilli(), payload,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert raw event: %w", err)
	}
	return nil
}

// InsertSignal adds a classified signal. Returns ErrDuplicateKey if its signal_id exists.
func (s *Store) InsertSignal(ctx context.Context, sig *domain.TradeSignal) error {
	if sig == nil || sig.SourceSignature == "" || sig.Mint == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_signals (
			signal_id, source_signature, slot, mint, direction, venue, venue_program,
			base_delta, instrument_delta, decimals, detected_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idhash.SignalID(sig), sig.SourceSignature, sig.Slot, sig.Mint, string(sig.Direction), sig.Venue, sig.VenueProgram,
		sig.BaseDelta, sig.InstrumentDelta, int(sig.Decimals), sig.DetectedAt.UnixMilli(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by signal_id. Returns ErrNotFound if not exists.
func (s *Store) GetSignal(ctx context.Context, signalID string) (*domain.TradeSignal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM trade_signals WHERE signal_id = ?`, signalID)
	sig, err := scanSignal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return sig, nil
}

// GetSignalsByMint retrieves signals for a mint, ordered by slot ASC.
func (s *Store) GetSignalsByMint(ctx context.Context, mint string) ([]*domain.TradeSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+signalColumns+` FROM trade_signals WHERE mint = ? ORDER BY slot ASC, source_signature ASC`, mint)
	if err != nil {
		return nil, fmt.Errorf("get signals by mint: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		result = append(result, sig)
	}
	return result, rows.Err()
}

// InsertExecution adds a run record. Returns ErrDuplicateKey if run_id exists.
func (s *Store) InsertExecution(ctx context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (
			run_id, source_signature, mint, direction, venue, route_kind, amount_in,
			channel, signature, bundle_id, landed, final_state, error_kind, error_message,
			started_ms, finished_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.SourceSignature, r.Mint, string(r.Direction), r.Venue, string(r.RouteKind), strconv.FormatUint(r.AmountIn, 10),
		r.Channel, r.Signature, r.BundleID, r.Landed, r.FinalState, string(r.ErrorKind), r.ErrorMessage,
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves a run by ID. Returns ErrNotFound if not exists.
func (s *Store) GetExecution(ctx context.Context, runID string) (*domain.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE run_id = ?`, runID)
	r, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return r, nil
}

// GetExecutionsByMint retrieves runs for a mint, ordered by started_at ASC.
func (s *Store) GetExecutionsByMint(ctx context.Context, mint string) ([]*domain.ExecutionRecord, error) {
	result, err := s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE mint = ? ORDER BY started_ms ASC, run_id ASC`, mint)
	if err != nil {
		return nil, fmt.Errorf("get executions by mint: %w", err)
	}
	return result, nil
}

// GetExecutionsBetween retrieves runs with from <= started_at < to, ordered by started_at ASC.
func (s *Store) GetExecutionsBetween(ctx context.Context, from, to time.Time) ([]*domain.ExecutionRecord, error) {
	result, err := s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE started_ms >= ? AND started_ms < ? ORDER BY started_ms ASC, run_id ASC`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("get executions between: %w", err)
	}
	return result, nil
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]*domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return result, rows.Err()
}

// GetRawEvents retrieves events with fromSlot <= slot <= toSlot, ordered by slot ASC, received_at ASC.
// Only Kind, Slot, ReceivedAt and Payload are restored.
func (s *Store) GetRawEvents(ctx context.Context, fromSlot, toSlot int64) ([]*domain.RawUpdateEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, slot, received_ms, payload FROM raw_events
		WHERE slot >= ? AND slot <= ?
		ORDER BY slot ASC, received_ms ASC, event_id ASC`, fromSlot, toSlot)
	if err != nil {
		return nil, fmt.Errorf("get raw events: %w", err)
	}
	defer rows.Close()

	var result []*domain.RawUpdateEvent
	for rows.Next() {
		var (
			ev         domain.RawUpdateEvent
			kind       string
			receivedMs int64
		)
		if err := rows.Scan(&kind, &ev.Slot, &receivedMs, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		ev.Kind = domain.UpdateKind(kind)
		ev.ReceivedAt = time.UnixMilli(receivedMs).UTC()
		result = append(result, &ev)
	}
	return result, rows.Err()
}

const signalColumns = `source_signature, slot, mint, direction, venue, venue_program,
	base_delta, instrument_delta, decimals, detected_ms`

const executionColumns = `run_id, source_signature, mint, direction, venue, route_kind, amount_in,
	channel, signature, bundle_id, landed, final_state, error_kind, error_message,
	started_ms, finished_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(row scanner) (*domain.TradeSignal, error) {
	var (
		sig        domain.TradeSignal
		direction  string
		decimals   int
		detectedMs int64
	)
	err := row.Scan(
		&sig.SourceSignature, &sig.Slot, &sig.Mint, &direction, &sig.Venue, &sig.VenueProgram,
		&sig.BaseDelta, &sig.InstrumentDelta, &decimals, &detectedMs,
	)
	if err != nil {
		return nil, err
	}
	sig.Direction = domain.Direction(direction)
	sig.Decimals = uint8(decimals)
	sig.DetectedAt = time.UnixMilli(detectedMs).UTC()
	return &sig, nil
}

func scanExecution(row scanner) (*domain.ExecutionRecord, error) {
	var (
		r                             domain.ExecutionRecord
		direction, routeKind, errKind string
		amount                        string
		startedMs, finishedMs         int64
	)
	err := row.Scan(
		&r.RunID, &r.SourceSignature, &r.Mint, &direction, &r.Venue, &routeKind, &amount,
		&r.Channel, &r.Signature, &r.BundleID, &r.Landed, &r.FinalState, &errKind, &r.ErrorMessage,
		&startedMs, &finishedMs,
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
	r.StartedAt = time.UnixMilli(startedMs).UTC()
	r.FinishedAt = time.UnixMilli(finishedMs).UTC()
	return &r, nil
}

// isDuplicateKeyError checks if error is a primary key or unique violation.
func isDuplicateKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
