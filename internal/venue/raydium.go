package venue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/retry"
	"solana-copy-trader/internal/solana"
)

// ErrPoolNotFound is returned while a pool or its market cannot be found yet.
// Callers may retry it.
var ErrPoolNotFound = errors.New("pool not found")

// swapBaseInTag is the AMM v4 SwapBaseIn instruction.
const swapBaseInTag = 9

// Pool descriptor roles for Raydium AMM v4.
const (
	RoleAMM              = "amm"
	RoleAuthority        = "authority"
	RoleOpenOrders       = "open_orders"
	RoleTargetOrders     = "target_orders"
	RoleBaseVault        = "base_vault"
	RoleQuoteVault       = "quote_vault"
	RoleBaseMint         = "base_mint"
	RoleQuoteMint        = "quote_mint"
	RoleMarketProgram    = "market_program"
	RoleMarket           = "market"
	RoleBids             = "bids"
	RoleAsks             = "asks"
	RoleEventQueue       = "event_queue"
	RoleMarketBaseVault  = "market_base_vault"
	RoleMarketQuoteVault = "market_quote_vault"
	RoleVaultSigner      = "vault_signer"
)

// Raydium is the Raydium AMM v4 constant-product venue.
type Raydium struct {
	rpc       solana.RPCClient
	authority string
}

// NewRaydium creates the venue. The AMM authority is derived once.
func NewRaydium(rpc solana.RPCClient) (*Raydium, error) {
	authority, _, err := solana.FindProgramAddress([][]byte{[]byte("amm authority")}, solana.RaydiumAMMV4)
	if err != nil {
		return nil, fmt.Errorf("derive amm authority: %w", err)
	}
	return &Raydium{rpc: rpc, authority: authority}, nil
}

func (r *Raydium) Name() string      { return "raydium" }
func (r *Raydium) Kind() Kind        { return KindDirectAMM }
func (r *Raydium) ProgramID() string { return solana.RaydiumAMMV4 }

// ResolveRoute finds the WSOL pool for the mint and derives its swap accounts.
// A missing pool or market returns ErrPoolNotFound; malformed accounts are permanent.
func (r *Raydium) ResolveRoute(ctx context.Context, req RouteRequest) (*domain.Route, error) {
	poolID, state, err := r.findPool(ctx, req.Mint)
	if err != nil {
		return nil, err
	}

	marketInfo, err := r.rpc.GetAccountInfo(ctx, state.MarketID)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", state.MarketID, err)
	}
	if marketInfo == nil {
		return nil, fmt.Errorf("market %s: %w", state.MarketID, ErrPoolNotFound)
	}
	market, err := DecodeMarketStateV3(marketInfo.Data)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %w", domain.ErrRouteUnavailable, err))
	}

	vaultSigner, err := vaultSignerAddress(state.MarketID, market.VaultSignerNonce, state.MarketProgramID)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: vault signer: %w", domain.ErrRouteUnavailable, err))
	}

	return &domain.Route{
		Kind:      domain.RouteDirect,
		Venue:     r.Name(),
		Direction: req.Direction,
		Mint:      req.Mint,
		AmountIn:  req.AmountIn,
		Pool: &domain.PoolDescriptor{
			Venue:    r.Name(),
			PoolID:   poolID,
			MarketID: state.MarketID,
			Accounts: map[string]string{
				RoleAMM:              poolID,
				RoleAuthority:        r.authority,
				RoleOpenOrders:       state.OpenOrders,
				RoleTargetOrders:     state.TargetOrders,
				RoleBaseVault:        state.BaseVault,
				RoleQuoteVault:       state.QuoteVault,
				RoleBaseMint:         state.BaseMint,
				RoleQuoteMint:        state.QuoteMint,
				RoleMarketProgram:    state.MarketProgramID,
				RoleMarket:           state.MarketID,
				RoleBids:             market.Bids,
				RoleAsks:             market.Asks,
				RoleEventQueue:       market.EventQueue,
				RoleMarketBaseVault:  market.BaseVault,
				RoleMarketQuoteVault: market.QuoteVault,
				RoleVaultSigner:      vaultSigner,
			},
		},
	}, nil
}

// findPool looks for mint/WSOL first, then the reversed orientation.
func (r *Raydium) findPool(ctx context.Context, mint string) (string, *PoolStateV4, error) {
	for _, filters := range [][]solana.AccountFilter{
		PoolByMintFilters(mint, solana.WSOLMint),
		PoolByMintFilters(solana.WSOLMint, mint),
	} {
		accounts, err := r.rpc.GetProgramAccounts(ctx, solana.RaydiumAMMV4, filters)
		if err != nil {
			return "", nil, fmt.Errorf("find pool: %w", err)
		}
		if len(accounts) == 0 {
			continue
		}
		state, err := DecodePoolStateV4(accounts[0].Account.Data)
		if err != nil {
			return "", nil, retry.Permanent(fmt.Errorf("%w: %w", domain.ErrRouteUnavailable, err))
		}
		return accounts[0].Pubkey, state, nil
	}
	return "", nil, fmt.Errorf("raydium pool for %s: %w", mint, ErrPoolNotFound)
}

// BuildSwap returns SwapBaseIn wrapped in WSOL account setup and teardown.
// The wrapped SOL account is closed after the swap so proceeds return as native SOL.
func (r *Raydium) BuildSwap(_ context.Context, route *domain.Route, p SwapParams) (*SwapInstructions, error) {
	if route == nil || route.Pool == nil {
		return nil, fmt.Errorf("%w: raydium route has no pool", domain.ErrBuildFailure)
	}
	mint, err := solana.PublicKey(route.Mint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}
	wsol, err := solana.PublicKey(solana.WSOLMint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}

	createWSOL, wsolATA, err := solana.CreateATAIdempotent(p.Owner, p.Owner, wsol)
	if err != nil {
		return nil, fmt.Errorf("%w: wsol account: %w", domain.ErrBuildFailure, err)
	}
	mintATAKey, err := solana.FindAssociatedTokenAddress(p.Owner.String(), mint.String())
	if err != nil {
		return nil, fmt.Errorf("%w: token account: %w", domain.ErrBuildFailure, err)
	}
	mintATA, err := solana.PublicKey(mintATAKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}

	out := &SwapInstructions{Setup: []solanago.Instruction{createWSOL}}

	source, dest := mintATA, wsolATA
	if route.Direction == domain.DirectionBuy {
		source, dest = wsolATA, mintATA
		wrap, err := solana.WrapSOL(p.Owner, wsolATA, route.AmountIn)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
		}
		out.Setup = append(out.Setup, wrap...)
	}

	swap, err := r.swapInstruction(route, source, dest, p.Owner, minOut(route.QuotedOutAmount, p.SlippageBps))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}
	out.Swap = []solanago.Instruction{swap}

	unwrap, err := solana.CloseTokenAccount(wsolATA, p.Owner, p.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}
	out.Teardown = []solanago.Instruction{unwrap}
	return out, nil
}

func (r *Raydium) swapInstruction(route *domain.Route, source, dest, owner solanago.PublicKey, minAmountOut uint64) (solanago.Instruction, error) {
	keys, err := poolKeys(route.Pool,
		RoleAMM, RoleAuthority, RoleOpenOrders, RoleTargetOrders,
		RoleBaseVault, RoleQuoteVault, RoleMarketProgram, RoleMarket,
		RoleBids, RoleAsks, RoleEventQueue, RoleMarketBaseVault,
		RoleMarketQuoteVault, RoleVaultSigner,
	)
	if err != nil {
		return nil, err
	}

	accounts := solanago.AccountMetaSlice{
		solanago.Meta(solanago.TokenProgramID),
		solanago.Meta(keys[RoleAMM]).WRITE(),
		solanago.Meta(keys[RoleAuthority]),
		solanago.Meta(keys[RoleOpenOrders]).WRITE(),
		solanago.Meta(keys[RoleTargetOrders]).WRITE(),
		solanago.Meta(keys[RoleBaseVault]).WRITE(),
		solanago.Meta(keys[RoleQuoteVault]).WRITE(),
		solanago.Meta(keys[RoleMarketProgram]),
		solanago.Meta(keys[RoleMarket]).WRITE(),
		solanago.Meta(keys[RoleBids]).WRITE(),
		solanago.Meta(keys[RoleAsks]).WRITE(),
		solanago.Meta(keys[RoleEventQueue]).WRITE(),
		solanago.Meta(keys[RoleMarketBaseVault]).WRITE(),
		solanago.Meta(keys[RoleMarketQuoteVault]).WRITE(),
		solanago.Meta(keys[RoleVaultSigner]),
		solanago.Meta(source).WRITE(),
		solanago.Meta(dest).WRITE(),
		solanago.Meta(owner).SIGNER(),
	}

	data := make([]byte, 17)
	data[0] = swapBaseInTag
	binary.LittleEndian.PutUint64(data[1:], route.AmountIn)
	binary.LittleEndian.PutUint64(data[9:], minAmountOut)

	program, err := solana.PublicKey(solana.RaydiumAMMV4)
	if err != nil {
		return nil, err
	}
	return solanago.NewInstruction(program, accounts, data), nil
}

// vaultSignerAddress derives the OpenBook vault signer from the market and its nonce.
func vaultSignerAddress(market string, nonce uint64, marketProgram string) (string, error) {
	marketBytes, err := solana.DecodeKey(market)
	if err != nil {
		return "", err
	}
	nonceBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonceBytes, nonce)
	return solana.CreateProgramAddress([][]byte{marketBytes, nonceBytes}, marketProgram)
}

func poolKeys(pool *domain.PoolDescriptor, roles ...string) (map[string]solanago.PublicKey, error) {
	out := make(map[string]solanago.PublicKey, len(roles))
	for _, role := range roles {
		raw := pool.Account(role)
		if raw == "" {
			return nil, fmt.Errorf("pool %s: missing %s account", pool.PoolID, role)
		}
		pk, err := solana.PublicKey(raw)
		if err != nil {
			return nil, err
		}
		out[role] = pk
	}
	return out, nil
}

// minOut applies slippage to a quoted output. A zero quote yields zero.
func minOut(quoted uint64, slippageBps int) uint64 {
	if quoted == 0 || slippageBps >= 10_000 {
		return 0
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	return mulDiv(quoted, uint64(10_000-slippageBps), 10_000)
}

// maxIn applies slippage to an input amount.
func maxIn(amount uint64, slippageBps int) uint64 {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return mulDiv(amount, uint64(10_000+slippageBps), 10_000)
}
