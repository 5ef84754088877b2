package storage

import (
	"context"
	"time"

	"solana-copy-trader/internal/domain"
)

// AuditStore records feed events and classified signals. Write-only from the
// pipeline's point of view; nothing in the trading path reads it back.
type AuditStore interface {
	// InsertRawEvent adds a feed event. Returns ErrDuplicateKey if its event_id exists.
	InsertRawEvent(ctx context.Context, ev *domain.RawUpdateEvent) error

	// InsertSignal adds a classified signal. Returns ErrDuplicateKey if its signal_id exists.
	InsertSignal(ctx context.Context, s *domain.TradeSignal) error
}

// RawEventReader reads recorded feed events back for replay.
// Decoded views (Tx, Account) may be absent; Payload is always set.
type RawEventReader interface {
	// GetRawEvents retrieves events with fromSlot <= slot <= toSlot, ordered by slot ASC, received_at ASC.
	GetRawEvents(ctx context.Context, fromSlot, toSlot int64) ([]*domain.RawUpdateEvent, error)
}

// SignalReader reads classified signals back for reporting and tests.
type SignalReader interface {
	// GetSignal retrieves a signal by signal_id. Returns ErrNotFound if not exists.
	GetSignal(ctx context.Context, signalID string) (*domain.TradeSignal, error)

	// GetSignalsByMint retrieves signals for a mint, ordered by slot ASC.
	GetSignalsByMint(ctx context.Context, mint string) ([]*domain.TradeSignal, error)
}

// ExecutionStore records finished pipeline runs.
type ExecutionStore interface {
	// InsertExecution adds a run record. Returns ErrDuplicateKey if run_id exists.
	InsertExecution(ctx context.Context, r *domain.ExecutionRecord) error
}

// ExecutionReader reads run records back for reporting and tests.
type ExecutionReader interface {
	// GetExecution retrieves a run by ID. Returns ErrNotFound if not exists.
	GetExecution(ctx context.Context, runID string) (*domain.ExecutionRecord, error)

	// GetExecutionsByMint retrieves runs for a mint, ordered by started_at ASC.
	GetExecutionsByMint(ctx context.Context, mint string) ([]*domain.ExecutionRecord, error)

	// GetExecutionsBetween retrieves runs with from <= started_at < to, ordered by started_at ASC.
	GetExecutionsBetween(ctx context.Context, from, to time.Time) ([]*domain.ExecutionRecord, error)
}

// Sink is a backend that stores every audit record kind.
type Sink interface {
	AuditStore
	ExecutionStore
}
