package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/jupiter"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/solana/stub"
	"solana-copy-trader/internal/venue"
)

const (
	target = "TargetWa11et1111111111111111111111111111111"
	mint   = "Mint1111111111111111111111111111111111111111"
)

type noopSwapAPI struct{}

func (noopSwapAPI) Quote(context.Context, jupiter.QuoteRequest) (*jupiter.Quote, error) {
	return nil, jupiter.ErrNoRoute
}

func (noopSwapAPI) Swap(context.Context, jupiter.SwapRequest) (*jupiter.SwapResponse, error) {
	return nil, jupiter.ErrNoRoute
}

type recordingAudit struct {
	events  []*domain.RawUpdateEvent
	signals []*domain.TradeSignal
	err     error
}

func (a *recordingAudit) InsertRawEvent(_ context.Context, ev *domain.RawUpdateEvent) error {
	a.events = append(a.events, ev)
	return a.err
}

func (a *recordingAudit) InsertSignal(_ context.Context, s *domain.TradeSignal) error {
	a.signals = append(a.signals, s)
	return a.err
}

func newClassifier(t *testing.T, audit *recordingAudit) *Classifier {
	t.Helper()
	registry, err := venue.DefaultRegistry(stub.NewRPCClient(), noopSwapAPI{}, venue.AggregatorOptions{})
	require.NoError(t, err)
	opts := Options{Target: target, Registry: registry}
	if audit != nil {
		opts.Audit = audit
	}
	return New(opts)
}

func invoke(program string) string {
	return "Program " + program + " invoke [1]"
}

// buyEvent is the target spending 0.5 SOL of WSOL on 1,000,000 raw units of mint via Raydium.
func buyEvent() domain.RawUpdateEvent {
	return domain.RawUpdateEvent{
		Kind: domain.UpdateKindTransaction,
		Slot: 250,
		Tx: &domain.TxUpdate{
			Signature:    "sigBuy",
			AccountKeys:  []string{target, solana.RaydiumAMMV4},
			LogMessages:  []string{invoke(solana.RaydiumAMMV4), "Program log: ray_log: xyz"},
			PreBalances:  []uint64{2_000_000_000, 1},
			PostBalances: []uint64{1_499_995_000, 1},
			PreTokenBalances: []domain.TokenBalance{
				{AccountIndex: 2, Mint: mint, Owner: target, Amount: 0, Decimals: 6},
				{AccountIndex: 3, Mint: solana.WSOLMint, Owner: target, Amount: 500_000_000, Decimals: 9},
			},
			PostTokenBalances: []domain.TokenBalance{
				{AccountIndex: 2, Mint: mint, Owner: target, Amount: 1_000_000, Decimals: 6},
				{AccountIndex: 3, Mint: solana.WSOLMint, Owner: target, Amount: 0, Decimals: 9},
			},
		},
	}
}

// sellEvent is the target selling 400,000 raw units of mint through pump.fun for native SOL.
func sellEvent() domain.RawUpdateEvent {
	return domain.RawUpdateEvent{
		Kind: domain.UpdateKindTransaction,
		Slot: 300,
		Tx: &domain.TxUpdate{
			Signature:    "sigSell",
			AccountKeys:  []string{"feePayer", target, solana.PumpFun},
			LogMessages:  []string{invoke(solana.PumpFun), "Program log: Instruction: Sell"},
			PreBalances:  []uint64{10, 1_000_000_000, 1},
			PostBalances: []uint64{5, 1_300_000_000, 1},
			PreTokenBalances: []domain.TokenBalance{
				{AccountIndex: 3, Mint: mint, Owner: target, Amount: 1_000_000, Decimals: 6},
				{AccountIndex: 4, Mint: mint, Owner: "bondingCurve", Amount: 9_000_000, Decimals: 6},
			},
			PostTokenBalances: []domain.TokenBalance{
				{AccountIndex: 3, Mint: mint, Owner: target, Amount: 600_000, Decimals: 6},
				{AccountIndex: 4, Mint: mint, Owner: "bondingCurve", Amount: 9_400_000, Decimals: 6},
			},
		},
	}
}

func TestClassify_Buy(t *testing.T) {
	audit := &recordingAudit{}
	c := newClassifier(t, audit)

	signal, err := c.Classify(context.Background(), buyEvent())
	require.NoError(t, err)

	assert.Equal(t, "sigBuy", signal.SourceSignature)
	assert.Equal(t, int64(250), signal.Slot)
	assert.Equal(t, mint, signal.Mint)
	assert.Equal(t, domain.DirectionBuy, signal.Direction)
	assert.Equal(t, "raydium", signal.Venue)
	assert.Equal(t, solana.RaydiumAMMV4, signal.VenueProgram)
	assert.Equal(t, int64(-1_000_000), signal.InstrumentDelta)
	assert.Equal(t, int64(500_000_000), signal.BaseDelta, "wsol balance wins over lamports")
	assert.Equal(t, uint8(6), signal.Decimals)
	assert.False(t, signal.DetectedAt.IsZero())

	assert.Len(t, audit.events, 1)
	assert.Len(t, audit.signals, 1)
}

func TestClassify_SellUsesLamportFallback(t *testing.T) {
	c := newClassifier(t, nil)

	signal, err := c.Classify(context.Background(), sellEvent())
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionSell, signal.Direction)
	assert.Equal(t, "pumpfun", signal.Venue)
	assert.Equal(t, int64(400_000), signal.InstrumentDelta, "other owners are ignored")
	assert.Equal(t, int64(-300_000_000), signal.BaseDelta)
}

func TestClassify_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(ev *domain.RawUpdateEvent)
		wantErr error
	}{
		{
			name:    "account update",
			mutate:  func(ev *domain.RawUpdateEvent) { ev.Kind = domain.UpdateKindAccount },
			wantErr: domain.ErrClassificationReject,
		},
		{
			name:    "undecoded payload",
			mutate:  func(ev *domain.RawUpdateEvent) { ev.Tx = nil },
			wantErr: domain.ErrDecode,
		},
		{
			name:    "failed transaction",
			mutate:  func(ev *domain.RawUpdateEvent) { ev.Tx.Failed = true },
			wantErr: domain.ErrClassificationReject,
		},
		{
			name:    "target not referenced",
			mutate:  func(ev *domain.RawUpdateEvent) { ev.Tx.AccountKeys = []string{"someoneElse"} },
			wantErr: domain.ErrClassificationReject,
		},
		{
			name:    "unknown venue",
			mutate:  func(ev *domain.RawUpdateEvent) { ev.Tx.LogMessages = []string{invoke(solana.TokenProgramID)} },
			wantErr: domain.ErrClassificationReject,
		},
		{
			name: "only base balances",
			mutate: func(ev *domain.RawUpdateEvent) {
				ev.Tx.PreTokenBalances = ev.Tx.PreTokenBalances[1:]
			},
			wantErr: domain.ErrClassificationReject,
		},
		{
			name: "unchanged instrument balance",
			mutate: func(ev *domain.RawUpdateEvent) {
				ev.Tx.PostTokenBalances[0].Amount = 0
			},
			wantErr: domain.ErrClassificationReject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClassifier(t, nil)
			ev := buyEvent()
			tt.mutate(&ev)

			signal, err := c.Classify(context.Background(), ev)
			assert.Nil(t, signal)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClassify_AuditFailureIsNotFatal(t *testing.T) {
	audit := &recordingAudit{err: errors.New("disk full")}
	c := newClassifier(t, audit)

	signal, err := c.Classify(context.Background(), buyEvent())
	require.NoError(t, err)
	assert.NotNil(t, signal)
	assert.Len(t, audit.signals, 1)
}

func TestQualifies(t *testing.T) {
	c := newClassifier(t, nil)

	assert.True(t, c.Qualifies(buyEvent()))
	assert.True(t, c.Qualifies(sellEvent()))

	other := buyEvent()
	other.Tx.AccountKeys = []string{"someoneElse", solana.RaydiumAMMV4}
	assert.False(t, c.Qualifies(other))

	failed := buyEvent()
	failed.Tx.Failed = true
	assert.False(t, c.Qualifies(failed))

	assert.False(t, c.Qualifies(domain.RawUpdateEvent{Kind: domain.UpdateKindTransaction}))
	assert.False(t, c.Qualifies(domain.RawUpdateEvent{Kind: domain.UpdateKindAccount}))
}

// Every accepted signal carries a non-empty mint, a non-zero delta, and a
// direction consistent with the delta sign.
func TestClassify_SignalProperties(t *testing.T) {
	c := newClassifier(t, nil)

	for _, ev := range []domain.RawUpdateEvent{buyEvent(), sellEvent()} {
		signal, err := c.Classify(context.Background(), ev)
		require.NoError(t, err)
		require.NoError(t, signal.Validate())

		want, ok := domain.DirectionFromDelta(signal.InstrumentDelta)
		require.True(t, ok)
		assert.Equal(t, want, signal.Direction)
	}
}
