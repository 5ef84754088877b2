package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/solana/stub"
)

type fakeRelay struct {
	bundles [][][]byte
	err     error
}

func (f *fakeRelay) SendBundle(_ context.Context, txs [][]byte) (string, error) {
	f.bundles = append(f.bundles, txs)
	if f.err != nil {
		return "", f.err
	}
	return "bundle-1", nil
}

func signedPlan(t *testing.T, key solanago.PrivateKey, kind domain.RouteKind, dir domain.Direction) *domain.SwapPlan {
	t.Helper()
	payer := key.PublicKey()
	blockhash := solanago.MustHashFromBase58("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N")
	tx, err := solanago.NewTransaction([]solanago.Instruction{solana.ComputeUnitLimit(200_000)}, blockhash, solanago.TransactionPayer(payer))
	require.NoError(t, err)
	_, err = tx.Sign(func(k solanago.PublicKey) *solanago.PrivateKey {
		if k.Equals(payer) {
			return &key
		}
		return nil
	})
	require.NoError(t, err)
	return &domain.SwapPlan{
		RunID:                "run",
		RouteKind:            kind,
		Direction:            dir,
		FeePayer:             payer,
		Blockhash:            blockhash,
		LastValidBlockHeight: 150,
		Transaction:          tx,
	}
}

func newEngine(t *testing.T, rpc *stub.RPCClient, relay Relay, mode string) (*Engine, solanago.PrivateKey) {
	t.Helper()
	key := solanago.NewWallet().PrivateKey
	opts := Options{
		RPC:          rpc,
		Key:          key,
		TipLamports:  100_000,
		Mode:         mode,
		PollInterval: time.Millisecond,
	}
	if relay != nil {
		opts.Relay = relay
	}
	e, err := NewEngine(opts)
	require.NoError(t, err)
	return e, key
}

func TestEngine_Channel(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		relay    bool
		kind     domain.RouteKind
		dir      domain.Direction
		expected string
	}{
		{"auto direct buy", ModeAuto, true, domain.RouteDirect, domain.DirectionBuy, domain.ChannelBundle},
		{"auto direct sell", ModeAuto, true, domain.RouteDirect, domain.DirectionSell, domain.ChannelBundle},
		{"auto aggregator buy", ModeAuto, true, domain.RouteAggregator, domain.DirectionBuy, domain.ChannelBundle},
		{"auto aggregator sell", ModeAuto, true, domain.RouteAggregator, domain.DirectionSell, domain.ChannelBroadcast},
		{"auto without relay", ModeAuto, false, domain.RouteDirect, domain.DirectionBuy, domain.ChannelBroadcast},
		{"forced bundle", ModeBundle, true, domain.RouteAggregator, domain.DirectionSell, domain.ChannelBundle},
		{"forced broadcast", ModeBroadcast, true, domain.RouteDirect, domain.DirectionBuy, domain.ChannelBroadcast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var relay Relay
			if tt.relay {
				relay = &fakeRelay{}
			}
			e, err := NewEngine(Options{RPC: stub.NewRPCClient(), Relay: relay, Mode: tt.mode})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, e.Channel(&domain.SwapPlan{RouteKind: tt.kind, Direction: tt.dir}))
		})
	}
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Options{Mode: ModeBundle})
	assert.Error(t, err)
	_, err = NewEngine(Options{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestEngine_BroadcastConfirmed(t *testing.T) {
	rpc := stub.NewRPCClient()
	relay := &fakeRelay{}
	e, key := newEngine(t, rpc, relay, ModeAuto)
	plan := signedPlan(t, key, domain.RouteAggregator, domain.DirectionSell)
	rpc.SetStatus(plan.Signature(), &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed})

	res, err := e.Submit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelBroadcast, res.Channel)
	assert.Equal(t, plan.Signature(), res.Signature)
	assert.True(t, res.Landed)
	assert.Len(t, rpc.Sent, 1)
	assert.Empty(t, relay.bundles, "exactly one channel is used")
}

func TestEngine_BundleWithTip(t *testing.T) {
	rpc := stub.NewRPCClient()
	relay := &fakeRelay{}
	e, key := newEngine(t, rpc, relay, ModeAuto)
	plan := signedPlan(t, key, domain.RouteDirect, domain.DirectionBuy)
	rpc.SetStatus(plan.Signature(), &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentFinalized})

	res, err := e.Submit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelBundle, res.Channel)
	assert.Equal(t, "bundle-1", res.BundleID)
	assert.True(t, res.Landed)
	assert.Empty(t, rpc.Sent)

	require.Len(t, relay.bundles, 1)
	require.Len(t, relay.bundles[0], 2)

	tip, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(relay.bundles[0][1]))
	require.NoError(t, err)
	require.NoError(t, tip.VerifySignatures())
	assert.Equal(t, plan.Blockhash, tip.Message.RecentBlockhash)
	assert.Contains(t, solana.JitoTipAccounts, tip.Message.AccountKeys[1].String())
}

func TestEngine_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		setup   func(rpc *stub.RPCClient, relay *fakeRelay, sig string)
		wantErr error
	}{
		{
			name:    "send rejected",
			mode:    ModeBroadcast,
			setup:   func(rpc *stub.RPCClient, _ *fakeRelay, _ string) { rpc.SendErr = errors.New("blockhash not found") },
			wantErr: domain.ErrSubmissionFailure,
		},
		{
			name:    "relay rejected",
			mode:    ModeBundle,
			setup:   func(_ *stub.RPCClient, relay *fakeRelay, _ string) { relay.err = errors.New("relay down") },
			wantErr: domain.ErrSubmissionFailure,
		},
		{
			name: "executed with error",
			mode: ModeBroadcast,
			setup: func(rpc *stub.RPCClient, _ *fakeRelay, sig string) {
				rpc.SetStatus(sig, &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed, Err: "InstructionError"})
			},
			wantErr: domain.ErrSubmissionFailure,
		},
		{
			name:    "blockhash expired",
			mode:    ModeBundle,
			setup:   func(rpc *stub.RPCClient, _ *fakeRelay, _ string) { rpc.AdvanceHeight = 30 },
			wantErr: domain.ErrConfirmationTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := stub.NewRPCClient()
			relay := &fakeRelay{}
			e, key := newEngine(t, rpc, relay, tt.mode)
			plan := signedPlan(t, key, domain.RouteDirect, domain.DirectionBuy)
			tt.setup(rpc, relay, plan.Signature())

			res, err := e.Submit(context.Background(), plan)
			assert.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, res)
			assert.False(t, res.Landed)
			assert.Equal(t, err, res.Err)
		})
	}
}

func TestConfirmer_ContextCancel(t *testing.T) {
	rpc := stub.NewRPCClient()
	c := NewConfirmer(rpc, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Wait(ctx, "unknown", 0)
	assert.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
