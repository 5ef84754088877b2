package builder

import (
	"context"
	"errors"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/solana/stub"
	"solana-copy-trader/internal/venue"
)

var swapProgram = solanago.MustPublicKeyFromBase58(solana.RaydiumAMMV4)

type fakeVenue struct {
	kind     venue.Kind
	teardown bool
	err      error
}

func (f *fakeVenue) Name() string      { return "fake" }
func (f *fakeVenue) Kind() venue.Kind  { return f.kind }
func (f *fakeVenue) ProgramID() string { return solana.RaydiumAMMV4 }

func (f *fakeVenue) ResolveRoute(context.Context, venue.RouteRequest) (*domain.Route, error) {
	return nil, errors.New("not used")
}

func (f *fakeVenue) BuildSwap(_ context.Context, _ *domain.Route, p venue.SwapParams) (*venue.SwapInstructions, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &venue.SwapInstructions{
		Swap: []solanago.Instruction{swapInstruction(p.Owner)},
	}
	if f.teardown {
		out.Teardown = []solanago.Instruction{solanago.NewInstruction(swapProgram, solanago.AccountMetaSlice{
			solanago.Meta(p.Owner).WRITE().SIGNER(),
		}, []byte{0xff})}
	}
	return out, nil
}

func swapInstruction(owner solanago.PublicKey) solanago.Instruction {
	return solanago.NewInstruction(swapProgram, solanago.AccountMetaSlice{
		solanago.Meta(owner).WRITE().SIGNER(),
	}, []byte{9, 1, 2, 3})
}

func newBuilder(t *testing.T, rpc *stub.RPCClient, v venue.Venue, sellPercent int) (*Builder, solanago.PrivateKey) {
	t.Helper()
	key := solanago.NewWallet().PrivateKey
	return New(Options{
		RPC:         rpc,
		Registry:    venue.NewRegistry(v),
		Key:         key,
		CUPrice:     100_000,
		CULimit:     200_000,
		SlippageBps: 1000,
		SellPercent: sellPercent,
		Simulate:    true,
	}), key
}

func directRoute(dir domain.Direction) *domain.Route {
	return &domain.Route{
		Kind:      domain.RouteDirect,
		Venue:     "fake",
		Direction: dir,
		Mint:      solanago.NewWallet().PublicKey().String(),
		AmountIn:  1_000,
	}
}

func TestBuild_DirectBuyOrder(t *testing.T) {
	rpc := stub.NewRPCClient()
	b, key := newBuilder(t, rpc, &fakeVenue{kind: venue.KindDirectAMM}, 100)

	plan, err := b.Build(context.Background(), "run-1", directRoute(domain.DirectionBuy))
	require.NoError(t, err)

	require.Len(t, plan.Instructions, 4)
	assert.True(t, plan.Instructions[0].ProgramID().Equals(solanago.ComputeBudget))
	assert.True(t, plan.Instructions[1].ProgramID().Equals(solanago.ComputeBudget))
	assert.True(t, solana.IsCreateATAIdempotent(plan.Instructions[2]))
	assert.True(t, plan.Instructions[3].ProgramID().Equals(swapProgram))
	assert.False(t, plan.CloseAccount)

	assert.Equal(t, "run-1", plan.RunID)
	assert.Equal(t, key.PublicKey(), plan.FeePayer)
	assert.Equal(t, uint64(150), plan.LastValidBlockHeight)
	assert.Equal(t, rpc.Blockhash.Blockhash, plan.Blockhash.String())
	require.NoError(t, plan.Transaction.VerifySignatures())
	assert.NotEmpty(t, plan.Signature())
	assert.Equal(t, 1, rpc.Calls("simulateTransaction"))
}

// A full SELL ends with closing the instrument account.
func TestBuild_DirectSellClosesLast(t *testing.T) {
	rpc := stub.NewRPCClient()
	b, key := newBuilder(t, rpc, &fakeVenue{kind: venue.KindDirectAMM, teardown: true}, 100)
	route := directRoute(domain.DirectionSell)

	plan, err := b.Build(context.Background(), "run-2", route)
	require.NoError(t, err)

	ataKey, err := solana.FindAssociatedTokenAddress(key.PublicKey().String(), route.Mint)
	require.NoError(t, err)
	ata := solanago.MustPublicKeyFromBase58(ataKey)

	last := plan.Instructions[len(plan.Instructions)-1]
	assert.True(t, solana.IsCloseAccount(last, ata))
	assert.True(t, plan.CloseAccount)

	for _, ix := range plan.Instructions {
		assert.False(t, solana.IsCreateATAIdempotent(ix), "sells do not create the instrument account")
	}
	// venue teardown runs before the close
	assert.True(t, plan.Instructions[len(plan.Instructions)-2].ProgramID().Equals(swapProgram))
}

func TestBuild_DirectPartialSellKeepsAccount(t *testing.T) {
	b, _ := newBuilder(t, stub.NewRPCClient(), &fakeVenue{kind: venue.KindDirectAMM}, 50)

	plan, err := b.Build(context.Background(), "run-3", directRoute(domain.DirectionSell))
	require.NoError(t, err)
	assert.False(t, plan.CloseAccount)
	assert.Len(t, plan.Instructions, 3)
}

func TestBuild_Failures(t *testing.T) {
	tests := []struct {
		name  string
		venue *fakeVenue
		rpc   func(*stub.RPCClient)
		route func() *domain.Route
	}{
		{
			name:  "venue error",
			venue: &fakeVenue{kind: venue.KindDirectAMM, err: errors.New("bad pool")},
			route: func() *domain.Route { return directRoute(domain.DirectionBuy) },
		},
		{
			name:  "blockhash error",
			venue: &fakeVenue{kind: venue.KindDirectAMM},
			rpc:   func(r *stub.RPCClient) { r.BlockhashErr = errors.New("rpc down") },
			route: func() *domain.Route { return directRoute(domain.DirectionBuy) },
		},
		{
			name:  "unknown venue",
			venue: &fakeVenue{kind: venue.KindDirectAMM},
			route: func() *domain.Route {
				r := directRoute(domain.DirectionBuy)
				r.Venue = "missing"
				return r
			},
		},
		{
			name:  "garbage aggregator payload",
			venue: &fakeVenue{kind: venue.KindDirectAMM},
			route: func() *domain.Route {
				return &domain.Route{Kind: domain.RouteAggregator, SwapTransaction: []byte{1, 2, 3}}
			},
		},
		{
			name:  "empty aggregator payload",
			venue: &fakeVenue{kind: venue.KindDirectAMM},
			route: func() *domain.Route { return &domain.Route{Kind: domain.RouteAggregator} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := stub.NewRPCClient()
			if tt.rpc != nil {
				tt.rpc(rpc)
			}
			b, _ := newBuilder(t, rpc, tt.venue, 100)

			plan, err := b.Build(context.Background(), "run", tt.route())
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, domain.ErrBuildFailure)
			assert.Zero(t, rpc.Calls("simulateTransaction"))
		})
	}
}

func TestBuild_SimulationErrorDoesNotAbort(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SimulateErr = errors.New("node busy")
	b, _ := newBuilder(t, rpc, &fakeVenue{kind: venue.KindDirectAMM}, 100)

	plan, err := b.Build(context.Background(), "run", directRoute(domain.DirectionBuy))
	require.NoError(t, err)
	assert.NotNil(t, plan.Transaction)

	rpc.SimulateErr = nil
	rpc.SimulateResult = &solana.SimulationResult{Err: map[string]interface{}{"InstructionError": []interface{}{2, "Custom"}}}
	_, err = b.Build(context.Background(), "run", directRoute(domain.DirectionBuy))
	require.NoError(t, err)
}

// aggregatorPayload mimics an aggregator swap transaction: compute budget,
// idempotent account creation and one swap, with an empty signature slot.
func aggregatorPayload(t *testing.T, payer solanago.PublicKey, mint solanago.PublicKey) []byte {
	t.Helper()
	create, _, err := solana.CreateATAIdempotent(payer, payer, mint)
	require.NoError(t, err)
	jup := solanago.MustPublicKeyFromBase58(solana.JupiterV6)
	swap := solanago.NewInstruction(jup, solanago.AccountMetaSlice{solanago.Meta(payer).WRITE().SIGNER()}, []byte{0xe5, 0x17})

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{solana.ComputeUnitPrice(52_000), create, swap},
		solanago.MustHashFromBase58("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"),
		solanago.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solanago.Signature, 1)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

// A BUY on the aggregator path yields exactly one swap and one idempotent
// account creation, bound to the freshly fetched blockhash.
func TestBuild_AggregatorBuy(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.Blockhash = solana.LatestBlockhash{
		Blockhash:            "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		LastValidBlockHeight: 5000,
	}
	b, key := newBuilder(t, rpc, &fakeVenue{kind: venue.KindDirectAMM}, 100)
	mint := solanago.NewWallet().PublicKey()

	route := &domain.Route{
		Kind:                 domain.RouteAggregator,
		Venue:                "jupiter",
		Direction:            domain.DirectionBuy,
		Mint:                 mint.String(),
		AmountIn:             10_000_000,
		SwapTransaction:      aggregatorPayload(t, key.PublicKey(), mint),
		LastValidBlockHeight: 777,
	}
	plan, err := b.Build(context.Background(), "run-agg", route)
	require.NoError(t, err)

	assert.Equal(t, domain.RouteAggregator, plan.RouteKind)
	assert.Equal(t, uint64(5000), plan.LastValidBlockHeight)
	assert.Equal(t, 1, rpc.Calls("getLatestBlockhash"))
	assert.Equal(t, rpc.Blockhash.Blockhash, plan.Blockhash.String())
	assert.Equal(t, plan.Blockhash, plan.Transaction.Message.RecentBlockhash)
	require.Len(t, plan.Transaction.Signatures, 1)
	require.NoError(t, plan.Transaction.VerifySignatures())

	var swaps, creates int
	msg := plan.Transaction.Message
	for _, ci := range msg.Instructions {
		program, err := msg.ResolveProgramIDIndex(ci.ProgramIDIndex)
		require.NoError(t, err)
		switch {
		case program.Equals(solanago.MustPublicKeyFromBase58(solana.JupiterV6)):
			swaps++
		case program.Equals(solanago.SPLAssociatedTokenAccountProgramID) && len(ci.Data) == 1 && ci.Data[0] == 1:
			creates++
		}
	}
	assert.Equal(t, 1, swaps)
	assert.Equal(t, 1, creates)
}

func TestBuild_AggregatorForeignPayer(t *testing.T) {
	b, _ := newBuilder(t, stub.NewRPCClient(), &fakeVenue{kind: venue.KindDirectAMM}, 100)
	other := solanago.NewWallet().PublicKey()

	_, err := b.Build(context.Background(), "run", &domain.Route{
		Kind:            domain.RouteAggregator,
		SwapTransaction: aggregatorPayload(t, other, solanago.NewWallet().PublicKey()),
	})
	assert.ErrorIs(t, err, domain.ErrBuildFailure)
}

func TestBuild_AggregatorBlockhashError(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.BlockhashErr = errors.New("rpc down")
	b, key := newBuilder(t, rpc, &fakeVenue{kind: venue.KindDirectAMM}, 100)

	plan, err := b.Build(context.Background(), "run", &domain.Route{
		Kind:            domain.RouteAggregator,
		Direction:       domain.DirectionSell,
		SwapTransaction: aggregatorPayload(t, key.PublicKey(), solanago.NewWallet().PublicKey()),
	})
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, domain.ErrBuildFailure)
}
