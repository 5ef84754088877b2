package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/idhash"
	"solana-copy-trader/internal/storage"
)

func createTestSignal(sig, mint string, slot int64) *domain.TradeSignal {
	return &domain.TradeSignal{
		SourceSignature: sig,
		Slot:            slot,
		Mint:            mint,
		Direction:       domain.DirectionSell,
		Venue:           "pumpfun",
		VenueProgram:    "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",
		BaseDelta:       -300_000_000,
		InstrumentDelta: 400_000,
		Decimals:        6,
		DetectedAt:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAuditStore_InsertRawEvent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAuditStore(pool)

	ev := &domain.RawUpdateEvent{
		Kind:       domain.UpdateKindTransaction,
		Slot:       250_000_000,
		ReceivedAt: time.Now(),
		Payload:    []byte(`{"signature":"sig1"}`),
		Tx:         &domain.TxUpdate{Signature: "sig1"},
	}
	require.NoError(t, store.InsertRawEvent(ctx, ev))
	assert.ErrorIs(t, store.InsertRawEvent(ctx, ev), storage.ErrDuplicateKey)

	acc := &domain.RawUpdateEvent{
		Kind:    domain.UpdateKindAccount,
		Slot:    250_000_000,
		Account: &domain.AccountUpdate{Pubkey: "pool1"},
	}
	require.NoError(t, store.InsertRawEvent(ctx, acc))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM raw_events`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestAuditStore_Signals(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAuditStore(pool)

	later := createTestSignal("sig-2", "mint1", 200)
	earlier := createTestSignal("sig-1", "mint1", 100)
	other := createTestSignal("sig-3", "mint2", 50)
	for _, s := range []*domain.TradeSignal{later, earlier, other} {
		require.NoError(t, store.InsertSignal(ctx, s))
	}
	assert.ErrorIs(t, store.InsertSignal(ctx, later), storage.ErrDuplicateKey)

	got, err := store.GetSignal(ctx, idhash.SignalID(later))
	require.NoError(t, err)
	assert.Equal(t, *later, *got)

	list, err := store.GetSignalsByMint(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(100), list[0].Slot)
	assert.Equal(t, int64(200), list[1].Slot)

	_, err = store.GetSignal(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAuditStore_InvalidInput(t *testing.T) {
	// Validation happens before any query, so no database is needed.
	store := NewAuditStore(nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.InsertRawEvent(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.InsertSignal(ctx, &domain.TradeSignal{Mint: "m"}), storage.ErrInvalidInput)
	assert.ErrorIs(t, NewExecutionStore(nil).InsertExecution(ctx, &domain.ExecutionRecord{}), storage.ErrInvalidInput)
}

func TestAuditStore_GetRawEvents(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAuditStore(pool)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, slot := range []int64{300, 100, 200} {
		sig := []string{"sig-c", "sig-a", "sig-b"}[i]
		require.NoError(t, store.InsertRawEvent(ctx, &domain.RawUpdateEvent{
			Kind:       domain.UpdateKindTransaction,
			Slot:       slot,
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
			Payload:    []byte(`{"signature":"` + sig + `"}`),
			Tx:         &domain.TxUpdate{Signature: sig},
		}))
	}

	got, err := store.GetRawEvents(ctx, 100, 200)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].Slot)
	assert.Equal(t, `{"signature":"sig-a"}`, string(got[0].Payload))
	assert.Equal(t, int64(200), got[1].Slot)
	assert.Equal(t, domain.UpdateKindTransaction, got[1].Kind)
}
