package venue

import (
	"context"
	"encoding/base64"
	"fmt"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/jupiter"
	"solana-copy-trader/internal/solana"
)

// SwapAPI is the aggregator surface used by aggregator-only venues.
type SwapAPI interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error)
	Swap(ctx context.Context, req jupiter.SwapRequest) (*jupiter.SwapResponse, error)
}

// AggregatorOptions configures quote and swap requests.
type AggregatorOptions struct {
	SlippageBps         int
	PriorityFeeLamports uint64
	// BuySwapMode is ExactIn (AmountIn is lamports to spend) or ExactOut.
	BuySwapMode string
}

// Aggregator is a venue without a direct integration. Trades go through the
// aggregator, which returns a ready-to-sign transaction.
type Aggregator struct {
	name    string
	program string
	api     SwapAPI
	opts    AggregatorOptions
}

// NewAggregator creates an aggregator-routed venue for program.
func NewAggregator(name, program string, api SwapAPI, opts AggregatorOptions) *Aggregator {
	if opts.BuySwapMode == "" {
		opts.BuySwapMode = jupiter.SwapModeExactIn
	}
	return &Aggregator{name: name, program: program, api: api, opts: opts}
}

// NewJupiter is the Jupiter v6 router venue.
func NewJupiter(api SwapAPI, opts AggregatorOptions) *Aggregator {
	return NewAggregator("jupiter", solana.JupiterV6, api, opts)
}

// NewPumpSwap is the PumpSwap AMM venue, routed through the aggregator.
func NewPumpSwap(api SwapAPI, opts AggregatorOptions) *Aggregator {
	return NewAggregator("pumpswap", solana.PumpSwapAMM, api, opts)
}

func (a *Aggregator) Name() string      { return a.name }
func (a *Aggregator) Kind() Kind        { return KindAggregatorOnly }
func (a *Aggregator) ProgramID() string { return a.program }

// ResolveRoute quotes the pair and fetches the swap transaction.
// BUY spends WSOL for the mint; SELL sells AmountIn of the mint for WSOL.
func (a *Aggregator) ResolveRoute(ctx context.Context, req RouteRequest) (*domain.Route, error) {
	quoteReq := jupiter.QuoteRequest{
		InputMint:   req.Mint,
		OutputMint:  solana.WSOLMint,
		Amount:      req.AmountIn,
		SlippageBps: a.opts.SlippageBps,
		SwapMode:    jupiter.SwapModeExactIn,
	}
	if req.Direction == domain.DirectionBuy {
		quoteReq.InputMint, quoteReq.OutputMint = solana.WSOLMint, req.Mint
		quoteReq.SwapMode = a.opts.BuySwapMode
	}

	quote, err := a.api.Quote(ctx, quoteReq)
	if err != nil {
		return nil, err
	}
	swap, err := a.api.Swap(ctx, jupiter.SwapRequest{
		Quote:                     quote,
		UserPublicKey:             req.Owner,
		WrapAndUnwrapSOL:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: a.opts.PriorityFeeLamports,
	})
	if err != nil {
		return nil, err
	}

	payload, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty swap transaction", domain.ErrRouteUnavailable)
	}

	out, _ := quote.OutAmountUint()
	return &domain.Route{
		Kind:                 domain.RouteAggregator,
		Venue:                a.name,
		Direction:            req.Direction,
		Mint:                 req.Mint,
		AmountIn:             req.AmountIn,
		SwapTransaction:      payload,
		LastValidBlockHeight: swap.LastValidBlockHeight,
		QuotedOutAmount:      out,
	}, nil
}

// BuildSwap is not supported: aggregator routes carry a prebuilt transaction.
func (a *Aggregator) BuildSwap(context.Context, *domain.Route, SwapParams) (*SwapInstructions, error) {
	return nil, fmt.Errorf("%w: %s routes carry a prebuilt transaction", domain.ErrBuildFailure, a.name)
}

// DefaultRegistry registers the venues the bot can copy.
func DefaultRegistry(rpc solana.RPCClient, api SwapAPI, opts AggregatorOptions) (*Registry, error) {
	raydium, err := NewRaydium(rpc)
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		raydium,
		NewPumpFun(rpc),
		NewJupiter(api, opts),
		NewPumpSwap(api, opts),
	), nil
}
