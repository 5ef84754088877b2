package venue

import (
	"context"
	"encoding/binary"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/retry"
	"solana-copy-trader/internal/solana"
)

// Anchor instruction discriminators of the pump.fun program.
var (
	pumpBuyDiscriminator  = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	pumpSellDiscriminator = []byte{51, 230, 133, 164, 1, 127, 131, 173}
)

// Pool descriptor roles for pump.fun.
const (
	RoleBondingCurve           = "bonding_curve"
	RoleAssociatedBondingCurve = "associated_bonding_curve"
	RoleMint                   = "mint"
)

// PumpFun is the pump.fun bonding curve venue.
type PumpFun struct {
	rpc solana.RPCClient
}

// NewPumpFun creates the venue.
func NewPumpFun(rpc solana.RPCClient) *PumpFun {
	return &PumpFun{rpc: rpc}
}

func (p *PumpFun) Name() string      { return "pumpfun" }
func (p *PumpFun) Kind() Kind        { return KindBondingCurve }
func (p *PumpFun) ProgramID() string { return solana.PumpFun }

// BondingCurveAddress derives the curve account for mint.
func BondingCurveAddress(mint string) (string, error) {
	mintBytes, err := solana.DecodeKey(mint)
	if err != nil {
		return "", err
	}
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mintBytes}, solana.PumpFun)
	return addr, err
}

// ResolveRoute reads the bonding curve and quotes the trade against its reserves.
// A completed curve has migrated away and is a permanent RouteUnavailable.
func (p *PumpFun) ResolveRoute(ctx context.Context, req RouteRequest) (*domain.Route, error) {
	curveAddr, err := BondingCurveAddress(req.Mint)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %w", domain.ErrRouteUnavailable, err))
	}

	info, err := p.rpc.GetAccountInfo(ctx, curveAddr)
	if err != nil {
		return nil, fmt.Errorf("fetch bonding curve %s: %w", curveAddr, err)
	}
	if info == nil {
		return nil, fmt.Errorf("bonding curve %s: %w", curveAddr, ErrPoolNotFound)
	}
	curve, err := DecodeBondingCurve(info.Data)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %w", domain.ErrRouteUnavailable, err))
	}
	if curve.Complete {
		return nil, retry.Permanent(fmt.Errorf("%w: bonding curve for %s is complete", domain.ErrRouteUnavailable, req.Mint))
	}

	var quoted uint64
	if req.Direction == domain.DirectionBuy {
		quoted = curve.BuyQuote(req.AmountIn)
	} else {
		quoted = curve.SellQuote(req.AmountIn)
	}
	if quoted == 0 {
		return nil, retry.Permanent(fmt.Errorf("%w: bonding curve quote is zero", domain.ErrRouteUnavailable))
	}

	associated, err := solana.FindAssociatedTokenAddress(curveAddr, req.Mint)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %w", domain.ErrRouteUnavailable, err))
	}

	return &domain.Route{
		Kind:            domain.RouteDirect,
		Venue:           p.Name(),
		Direction:       req.Direction,
		Mint:            req.Mint,
		AmountIn:        req.AmountIn,
		QuotedOutAmount: quoted,
		Pool: &domain.PoolDescriptor{
			Venue:  p.Name(),
			PoolID: curveAddr,
			Accounts: map[string]string{
				RoleBondingCurve:           curveAddr,
				RoleAssociatedBondingCurve: associated,
				RoleMint:                   req.Mint,
			},
		},
	}, nil
}

// BuildSwap returns the buy or sell instruction. A BUY asks for the quoted
// token amount and caps the SOL cost; a SELL floors the SOL output.
func (p *PumpFun) BuildSwap(_ context.Context, route *domain.Route, params SwapParams) (*SwapInstructions, error) {
	if route == nil || route.Pool == nil {
		return nil, fmt.Errorf("%w: pump.fun route has no curve", domain.ErrBuildFailure)
	}
	keys, err := poolKeys(route.Pool, RoleBondingCurve, RoleAssociatedBondingCurve, RoleMint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}
	userATAKey, err := solana.FindAssociatedTokenAddress(params.Owner.String(), route.Mint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}
	userATA, err := solana.PublicKey(userATAKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}
	fixed, err := pumpFixedAccounts()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBuildFailure, err)
	}

	data := make([]byte, 24)
	accounts := solanago.AccountMetaSlice{
		solanago.Meta(fixed.global),
		solanago.Meta(fixed.feeRecipient).WRITE(),
		solanago.Meta(keys[RoleMint]),
		solanago.Meta(keys[RoleBondingCurve]).WRITE(),
		solanago.Meta(keys[RoleAssociatedBondingCurve]).WRITE(),
		solanago.Meta(userATA).WRITE(),
		solanago.Meta(params.Owner).WRITE().SIGNER(),
		solanago.Meta(solanago.SystemProgramID),
	}

	if route.Direction == domain.DirectionBuy {
		copy(data, pumpBuyDiscriminator)
		binary.LittleEndian.PutUint64(data[8:], route.QuotedOutAmount)
		binary.LittleEndian.PutUint64(data[16:], maxIn(route.AmountIn, params.SlippageBps))
		accounts = append(accounts,
			solanago.Meta(solanago.TokenProgramID),
			solanago.Meta(solanago.SysVarRentPubkey),
		)
	} else {
		copy(data, pumpSellDiscriminator)
		binary.LittleEndian.PutUint64(data[8:], route.AmountIn)
		binary.LittleEndian.PutUint64(data[16:], minOut(route.QuotedOutAmount, params.SlippageBps))
		accounts = append(accounts,
			solanago.Meta(solanago.SPLAssociatedTokenAccountProgramID),
			solanago.Meta(solanago.TokenProgramID),
		)
	}
	accounts = append(accounts,
		solanago.Meta(fixed.eventAuthority),
		solanago.Meta(fixed.program),
	)

	return &SwapInstructions{
		Swap: []solanago.Instruction{solanago.NewInstruction(fixed.program, accounts, data)},
	}, nil
}

type pumpAccounts struct {
	program        solanago.PublicKey
	global         solanago.PublicKey
	feeRecipient   solanago.PublicKey
	eventAuthority solanago.PublicKey
}

func pumpFixedAccounts() (*pumpAccounts, error) {
	var out pumpAccounts
	for _, k := range []struct {
		dst *solanago.PublicKey
		key string
	}{
		{&out.program, solana.PumpFun},
		{&out.global, solana.PumpFunGlobal},
		{&out.feeRecipient, solana.PumpFunFeeRecipient},
		{&out.eventAuthority, solana.PumpFunEventAuthority},
	} {
		pk, err := solana.PublicKey(k.key)
		if err != nil {
			return nil, err
		}
		*k.dst = pk
	}
	return &out, nil
}
