// Package submit sends signed swap transactions and waits for them to land.
package submit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/solana"
)

// Submission modes.
const (
	ModeAuto      = "auto"
	ModeBundle    = "bundle"
	ModeBroadcast = "broadcast"
)

// Options configures the engine.
type Options struct {
	RPC   solana.RPCClient
	Relay Relay // nil disables the bundle channel
	// Key signs the tip transaction. Must be the plan's fee payer.
	Key         solanago.PrivateKey
	TipLamports uint64
	// TipAccounts defaults to the mainnet block-engine tip receivers.
	TipAccounts []string
	Mode        string

	PollInterval time.Duration
	Logger       *zap.Logger
}

// Engine submits each plan through exactly one channel.
type Engine struct {
	rpc         solana.RPCClient
	relay       Relay
	key         solanago.PrivateKey
	tip         uint64
	tipAccounts []string
	mode        string
	confirmer   *Confirmer
	logger      *zap.Logger
}

// NewEngine creates a submission engine.
func NewEngine(opts Options) (*Engine, error) {
	switch opts.Mode {
	case "":
		opts.Mode = ModeAuto
	case ModeAuto, ModeBroadcast:
	case ModeBundle:
		if opts.Relay == nil {
			return nil, errors.New("submit: bundle mode needs a relay")
		}
	default:
		return nil, fmt.Errorf("submit: unknown mode %q", opts.Mode)
	}
	if len(opts.TipAccounts) == 0 {
		opts.TipAccounts = solana.JitoTipAccounts
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("submit")
	return &Engine{
		rpc:         opts.RPC,
		relay:       opts.Relay,
		key:         opts.Key,
		tip:         opts.TipLamports,
		tipAccounts: opts.TipAccounts,
		mode:        opts.Mode,
		confirmer:   NewConfirmer(opts.RPC, opts.PollInterval, logger),
		logger:      logger,
	}, nil
}

// Channel returns the channel used for plan. In auto mode aggregator sells
// are broadcast and everything else goes through the bundle relay.
func (e *Engine) Channel(plan *domain.SwapPlan) string {
	switch {
	case e.mode == ModeBroadcast || e.relay == nil:
		return domain.ChannelBroadcast
	case e.mode == ModeBundle:
		return domain.ChannelBundle
	case plan.RouteKind == domain.RouteAggregator && plan.Direction == domain.DirectionSell:
		return domain.ChannelBroadcast
	default:
		return domain.ChannelBundle
	}
}

// Submit sends plan and waits for confirmation. The returned result is never
// nil; its Err equals the returned error.
func (e *Engine) Submit(ctx context.Context, plan *domain.SwapPlan) (*domain.SubmissionResult, error) {
	if plan == nil || plan.Transaction == nil {
		err := fmt.Errorf("%w: plan has no signed transaction", domain.ErrSubmissionFailure)
		return &domain.SubmissionResult{Err: err}, err
	}

	channel := e.Channel(plan)
	res := &domain.SubmissionResult{Channel: channel, Signature: plan.Signature()}

	start := time.Now()
	var err error
	switch channel {
	case domain.ChannelBundle:
		res.BundleID, err = e.sendBundle(ctx, plan)
	default:
		err = e.broadcast(ctx, plan)
	}
	observability.RecordSubmission(channel, err)
	observability.RecordStage("submit", time.Since(start))
	if err != nil {
		res.Err = err
		return res, err
	}

	e.logger.Info("transaction submitted",
		zap.String("run_id", plan.RunID),
		zap.String("channel", channel),
		zap.String("signature", res.Signature),
		zap.String("bundle_id", res.BundleID),
	)

	start = time.Now()
	err = e.confirmer.Wait(ctx, res.Signature, plan.LastValidBlockHeight)
	observability.RecordStage("confirm", time.Since(start))
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Landed = true
	return res, nil
}

func (e *Engine) broadcast(ctx context.Context, plan *domain.SwapPlan) error {
	raw, err := plan.Transaction.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrSubmissionFailure, err)
	}
	sig, err := e.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(raw), solana.SendOptions{
		SkipPreflight:       true,
		PreflightCommitment: solana.CommitmentProcessed,
	})
	if err != nil {
		return fmt.Errorf("%w: send: %w", domain.ErrSubmissionFailure, err)
	}
	if want := plan.Signature(); sig != want {
		e.logger.Warn("node returned a different signature",
			zap.String("expected", want),
			zap.String("got", sig),
		)
	}
	return nil
}

func (e *Engine) sendBundle(ctx context.Context, plan *domain.SwapPlan) (string, error) {
	raw, err := plan.Transaction.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("%w: encode: %w", domain.ErrSubmissionFailure, err)
	}
	txs := [][]byte{raw}

	if e.tip > 0 {
		tipTx, err := e.tipTransaction(plan.Blockhash)
		if err != nil {
			return "", err
		}
		tipRaw, err := tipTx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("%w: encode tip: %w", domain.ErrSubmissionFailure, err)
		}
		txs = append(txs, tipRaw)
	}

	id, err := e.relay.SendBundle(ctx, txs)
	if err != nil {
		return "", fmt.Errorf("%w: bundle: %w", domain.ErrSubmissionFailure, err)
	}
	return id, nil
}

// tipTransaction pays the tip to a random tip account under the same blockhash
// as the swap so both expire together.
func (e *Engine) tipTransaction(blockhash solanago.Hash) (*solanago.Transaction, error) {
	payer := e.key.PublicKey()
	tipAccount, err := solana.PublicKey(e.tipAccounts[rand.IntN(len(e.tipAccounts))])
	if err != nil {
		return nil, fmt.Errorf("%w: tip account: %w", domain.ErrSubmissionFailure, err)
	}
	ix, err := solana.Transfer(payer, tipAccount, e.tip)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSubmissionFailure, err)
	}
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("%w: tip transaction: %w", domain.ErrSubmissionFailure, err)
	}
	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(payer) {
			return &e.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: sign tip: %w", domain.ErrSubmissionFailure, err)
	}
	return tx, nil
}
