package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/idhash"
	"solana-copy-trader/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var (
	_ storage.AuditStore     = (*AuditStore)(nil)
	_ storage.SignalReader   = (*AuditStore)(nil)
	_ storage.RawEventReader = (*AuditStore)(nil)
)

// InsertRawEvent adds a feed event. Returns ErrDuplicateKey if its event_id exists.
func (s *AuditStore) InsertRawEvent(ctx context.Context, ev *domain.RawUpdateEvent) error {
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

	query := `
		INSERT INTO raw_events (event_id, kind, slot, event_key, received_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query,
		idhash.EventID(ev), string(ev.Kind), ev.Slot, key, ev.ReceivedAt.UTC(), payload,
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
func (s *AuditStore) InsertSignal(ctx context.Context, sig *domain.TradeSignal) error {
	if sig == nil || sig.SourceSignature == "" || sig.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_signals (
			signal_id, source_signature, slot, mint, direction, venue, venue_program,
			base_delta, instrument_delta, decimals, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		idhash.SignalID(sig), sig.SourceSignature, sig.Slot, sig.Mint, string(sig.Direction), sig.Venue, sig.VenueProgram,
		sig.BaseDelta, sig.InstrumentDelta, int16(sig.Decimals), sig.DetectedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetRawEvents retrieves events with fromSlot <= slot <= toSlot, ordered by slot ASC, received_at ASC.
// Only Kind, Slot, ReceivedAt and Payload are restored.
func (s *AuditStore) GetRawEvents(ctx context.Context, fromSlot, toSlot int64) ([]*domain.RawUpdateEvent, error) {
	query := `
		SELECT kind, slot, received_at, payload
		FROM raw_events
		WHERE slot >= $1 AND slot <= $2
		ORDER BY slot ASC, received_at ASC, event_id ASC
	`
	rows, err := s.pool.Query(ctx, query, fromSlot, toSlot)
	if err != nil {
		return nil, fmt.Errorf("get raw events: %w", err)
	}
	defer rows.Close()

	var result []*domain.RawUpdateEvent
	for rows.Next() {
		var (
			ev       domain.RawUpdateEvent
			kind     string
			received time.Time
		)
		if err := rows.Scan(&kind, &ev.Slot, &received, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		ev.Kind = domain.UpdateKind(kind)
		ev.ReceivedAt = received.UTC()
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw event rows: %w", err)
	}
	return result, nil
}

const signalColumns = `
	source_signature, slot, mint, direction, venue, venue_program,
	base_delta, instrument_delta, decimals, detected_at`

// GetSignal retrieves a signal by signal_id. Returns ErrNotFound if not exists.
func (s *AuditStore) GetSignal(ctx context.Context, signalID string) (*domain.TradeSignal, error) {
	query := `SELECT ` + signalColumns + ` FROM trade_signals WHERE signal_id = $1`

	sig, err := scanSignal(s.pool.QueryRow(ctx, query, signalID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return sig, nil
}

// GetSignalsByMint retrieves signals for a mint, ordered by slot ASC.
func (s *AuditStore) GetSignalsByMint(ctx context.Context, mint string) ([]*domain.TradeSignal, error) {
	query := `SELECT ` + signalColumns + `
		FROM trade_signals
		WHERE mint = $1
		ORDER BY slot ASC, source_signature ASC`

	rows, err := s.pool.Query(ctx, query, mint)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}
	return result, nil
}

func scanSignal(row pgx.Row) (*domain.TradeSignal, error) {
	var (
		sig       domain.TradeSignal
		direction string
		decimals  int16
	)
	err := row.Scan(
		&sig.SourceSignature, &sig.Slot, &sig.Mint, &direction, &sig.Venue, &sig.VenueProgram,
		&sig.BaseDelta, &sig.InstrumentDelta, &decimals, &sig.DetectedAt,
	)
	if err != nil {
		return nil, err
	}
	sig.Direction = domain.Direction(direction)
	sig.Decimals = uint8(decimals)
	sig.DetectedAt = sig.DetectedAt.UTC()
	return &sig, nil
}
