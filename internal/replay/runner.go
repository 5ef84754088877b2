package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/storage"
	"solana-copy-trader/internal/stream"
)

// Runner loads recorded events from storage and replays them in deterministic order.
type Runner struct {
	store  storage.RawEventReader
	logger *zap.Logger
}

// NewRunner creates a new replay runner.
func NewRunner(store storage.RawEventReader, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: store, logger: logger.Named("replay")}
}

// Run replays events with fromSlot <= slot <= toSlot through engine and returns
// how many were delivered. Decoded views are rebuilt from the stored payloads;
// events whose payload no longer decodes are delivered without one.
func (r *Runner) Run(ctx context.Context, fromSlot, toSlot int64, engine Engine) (int, error) {
	stored, err := r.store.GetRawEvents(ctx, fromSlot, toSlot)
	if err != nil {
		return 0, fmt.Errorf("load raw events: %w", err)
	}

	events := make([]domain.RawUpdateEvent, 0, len(stored))
	for _, ev := range stored {
		if err := Restore(ev); err != nil {
			r.logger.Debug("payload does not decode", zap.Int64("slot", ev.Slot), zap.Error(err))
		}
		events = append(events, *ev)
	}
	SortEvents(events)

	r.logger.Info("replay started",
		zap.Int64("from_slot", fromSlot),
		zap.Int64("to_slot", toSlot),
		zap.Int("events", len(events)),
	)

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := engine.OnEvent(ctx, ev); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// Restore rebuilds the decoded view of ev from its payload. Events that already
// carry a decoded view, or have no payload, are left alone.
// Slot and ReceivedAt always keep their recorded values.
func Restore(ev *domain.RawUpdateEvent) error {
	if ev.Tx != nil || ev.Account != nil || len(ev.Payload) == 0 {
		return nil
	}
	switch ev.Kind {
	case domain.UpdateKindTransaction:
		n, err := solana.DecodeTransactionNotification(ev.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		ev.Tx = stream.TransactionEvent(n).Tx
	case domain.UpdateKindAccount:
		n, err := solana.DecodeProgramNotification(ev.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		ev.Account = stream.AccountEvent(n).Account
	default:
		return fmt.Errorf("%w: unknown event kind %q", domain.ErrDecode, ev.Kind)
	}
	return nil
}
