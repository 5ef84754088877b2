// Package builder assembles and signs the swap transaction of one pipeline run.
package builder

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/venue"
)

// Options configures the builder.
type Options struct {
	RPC      solana.RPCClient
	Registry *venue.Registry
	// Key signs every transaction and pays its fees.
	Key solanago.PrivateKey

	CUPrice     uint64 // micro-lamports per compute unit
	CULimit     uint32
	SlippageBps int
	SellPercent int
	// Simulate runs a best-effort simulation after signing.
	Simulate bool

	Logger *zap.Logger
}

// Builder turns routes into signed transactions.
type Builder struct {
	rpc      solana.RPCClient
	registry *venue.Registry
	key      solanago.PrivateKey
	payer    solanago.PublicKey
	opts     Options
	logger   *zap.Logger
}

// New creates a builder.
func New(opts Options) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		rpc:      opts.RPC,
		registry: opts.Registry,
		key:      opts.Key,
		payer:    opts.Key.PublicKey(),
		opts:     opts,
		logger:   logger.Named("builder"),
	}
}

// Payer returns the fee payer address.
func (b *Builder) Payer() solanago.PublicKey { return b.payer }

// Build signs the transaction for route. Every failure wraps ErrBuildFailure.
func (b *Builder) Build(ctx context.Context, runID string, route *domain.Route) (*domain.SwapPlan, error) {
	if route == nil {
		return nil, fmt.Errorf("%w: nil route", domain.ErrBuildFailure)
	}

	start := time.Now()
	defer func() { observability.RecordStage("build", time.Since(start)) }()

	var (
		plan *domain.SwapPlan
		err  error
	)
	switch route.Kind {
	case domain.RouteDirect:
		plan, err = b.buildDirect(ctx, route)
	case domain.RouteAggregator:
		plan, err = b.buildAggregator(ctx, route)
	default:
		err = fmt.Errorf("%w: unknown route kind %q", domain.ErrBuildFailure, route.Kind)
	}
	if err != nil {
		return nil, err
	}
	plan.RunID = runID

	if b.opts.Simulate {
		b.simulate(ctx, plan)
	}
	return plan, nil
}

func (b *Builder) buildDirect(ctx context.Context, route *domain.Route) (*domain.SwapPlan, error) {
	v, ok := b.registry.ByName(route.Venue)
	if !ok {
		return nil, fmt.Errorf("%w: unknown venue %q", domain.ErrBuildFailure, route.Venue)
	}
	mint, err := solana.PublicKey(route.Mint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}

	ixs := []solanago.Instruction{
		solana.ComputeUnitPrice(b.opts.CUPrice),
		solana.ComputeUnitLimit(b.opts.CULimit),
	}

	if route.Direction == domain.DirectionBuy {
		create, _, err := solana.CreateATAIdempotent(b.payer, b.payer, mint)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
		}
		ixs = append(ixs, create)
	}

	swap, err := v.BuildSwap(ctx, route, venue.SwapParams{Owner: b.payer, SlippageBps: b.opts.SlippageBps})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrBuildFailure, v.Name(), err)
	}
	if len(swap.Swap) == 0 {
		return nil, fmt.Errorf("%w: %s returned no swap instruction", domain.ErrBuildFailure, v.Name())
	}
	ixs = append(ixs, swap.Setup...)
	ixs = append(ixs, swap.Swap...)
	ixs = append(ixs, swap.Teardown...)

	closeAccount := route.Direction == domain.DirectionSell && b.opts.SellPercent >= 100
	if closeAccount {
		ataKey, err := solana.FindAssociatedTokenAddress(b.payer.String(), route.Mint)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
		}
		ata, err := solana.PublicKey(ataKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
		}
		closeIx, err := solana.CloseTokenAccount(ata, b.payer, b.payer)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
		}
		ixs = append(ixs, closeIx)
	}

	blockhash, lastValid, err := b.latestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solanago.NewTransaction(ixs, blockhash, solanago.TransactionPayer(b.payer))
	if err != nil {
		return nil, fmt.Errorf("%w: compile: %w", domain.ErrBuildFailure, err)
	}
	if err := b.sign(tx); err != nil {
		return nil, err
	}

	return &domain.SwapPlan{
		RouteKind:            domain.RouteDirect,
		Direction:            route.Direction,
		Mint:                 route.Mint,
		AmountIn:             route.AmountIn,
		Instructions:         ixs,
		FeePayer:             b.payer,
		Blockhash:            blockhash,
		LastValidBlockHeight: lastValid,
		CloseAccount:         closeAccount,
		Transaction:          tx,
	}, nil
}

// buildAggregator rebinds the aggregator's transaction to a fresh blockhash and
// signs it. The payload already carries its compute budget and account setup.
func (b *Builder) buildAggregator(ctx context.Context, route *domain.Route) (*domain.SwapPlan, error) {
	if len(route.SwapTransaction) == 0 {
		return nil, fmt.Errorf("%w: empty swap payload", domain.ErrBuildFailure)
	}
	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(route.SwapTransaction))
	if err != nil {
		return nil, fmt.Errorf("%w: decode swap payload: %w", domain.ErrBuildFailure, err)
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(b.payer) {
		return nil, fmt.Errorf("%w: swap payload fee payer is not the trading wallet", domain.ErrBuildFailure)
	}

	blockhash, lastValid, err := b.latestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx.Message.RecentBlockhash = blockhash
	tx.Signatures = nil
	if err := b.sign(tx); err != nil {
		return nil, err
	}

	return &domain.SwapPlan{
		RouteKind:            domain.RouteAggregator,
		Direction:            route.Direction,
		Mint:                 route.Mint,
		AmountIn:             route.AmountIn,
		FeePayer:             b.payer,
		Blockhash:            blockhash,
		LastValidBlockHeight: lastValid,
		Transaction:          tx,
	}, nil
}

// latestBlockhash fetches the per-run blockhash snapshot and its expiry height.
func (b *Builder) latestBlockhash(ctx context.Context) (solanago.Hash, uint64, error) {
	latest, err := b.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return solanago.Hash{}, 0, fmt.Errorf("%w: blockhash: %w", domain.ErrBuildFailure, err)
	}
	blockhash, err := solanago.HashFromBase58(latest.Blockhash)
	if err != nil {
		return solanago.Hash{}, 0, fmt.Errorf("%w: blockhash: %w", domain.ErrBuildFailure, err)
	}
	return blockhash, latest.LastValidBlockHeight, nil
}

func (b *Builder) sign(tx *solanago.Transaction) error {
	_, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(b.payer) {
			return &b.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: sign: %w", domain.ErrBuildFailure, err)
	}
	return nil
}

// simulate logs the simulation outcome. It never fails the build.
func (b *Builder) simulate(ctx context.Context, plan *domain.SwapPlan) {
	raw, err := plan.Transaction.MarshalBinary()
	if err != nil {
		b.logger.Warn("simulation skipped", zap.String("run_id", plan.RunID), zap.Error(err))
		return
	}
	res, err := b.rpc.SimulateTransaction(ctx, base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		b.logger.Warn("simulation failed", zap.String("run_id", plan.RunID), zap.Error(err))
		return
	}
	if res.Err != nil {
		b.logger.Warn("simulation reported error",
			zap.String("run_id", plan.RunID),
			zap.Any("err", res.Err),
			zap.Strings("logs", res.Logs),
		)
		return
	}
	b.logger.Debug("simulation ok",
		zap.String("run_id", plan.RunID),
		zap.Uint64("units_consumed", res.UnitsConsumed),
	)
}
