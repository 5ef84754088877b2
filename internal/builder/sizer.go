package builder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/solana"
)

// SizerConfig holds the trade sizing parameters.
type SizerConfig struct {
	Owner           string
	BuyLamports     uint64
	ReserveLamports uint64
	SellPercent     int
}

// Sizer computes how much of the wallet a mirrored trade may spend.
type Sizer struct {
	rpc solana.RPCClient
	cfg SizerConfig
}

// NewSizer creates a sizer.
func NewSizer(rpc solana.RPCClient, cfg SizerConfig) *Sizer {
	return &Sizer{rpc: rpc, cfg: cfg}
}

// SellPercent returns the configured sell percentage.
func (s *Sizer) SellPercent() int { return s.cfg.SellPercent }

// Amount returns the input amount for a trade in direction on mint:
// lamports for BUY, raw token units for SELL.
//
// BUY requires balance - reserve - buySize > 0 and spends exactly the buy size.
// SELL spends floor(holdings * sellPercent / 100).
// A non-positive result returns ErrInsufficientFunds.
func (s *Sizer) Amount(ctx context.Context, direction domain.Direction, mint string) (uint64, error) {
	switch direction {
	case domain.DirectionBuy:
		return s.buyAmount(ctx)
	case domain.DirectionSell:
		holdings, err := s.Holdings(ctx, mint)
		if err != nil {
			return 0, err
		}
		amount := SellAmount(holdings, s.cfg.SellPercent)
		if amount == 0 {
			return 0, fmt.Errorf("%w: no %s to sell (holdings %d)", domain.ErrInsufficientFunds, mint, holdings)
		}
		return amount, nil
	default:
		return 0, fmt.Errorf("%w: unknown direction %q", domain.ErrBuildFailure, direction)
	}
}

func (s *Sizer) buyAmount(ctx context.Context) (uint64, error) {
	balance, err := s.rpc.GetBalance(ctx, s.cfg.Owner)
	if err != nil {
		return 0, fmt.Errorf("%w: balance: %w", domain.ErrInsufficientFunds, err)
	}
	required := s.cfg.ReserveLamports + s.cfg.BuyLamports
	if s.cfg.BuyLamports == 0 || balance <= required {
		return 0, fmt.Errorf("%w: balance %d lamports, need more than %d", domain.ErrInsufficientFunds, balance, required)
	}
	return s.cfg.BuyLamports, nil
}

// Holdings returns the wallet's raw balance of mint. A missing token account
// returns ErrInsufficientFunds.
func (s *Sizer) Holdings(ctx context.Context, mint string) (uint64, error) {
	ata, err := solana.FindAssociatedTokenAddress(s.cfg.Owner, mint)
	if err != nil {
		return 0, fmt.Errorf("%w: derive token account: %w", domain.ErrBuildFailure, err)
	}
	bal, err := s.rpc.GetTokenAccountBalance(ctx, ata)
	if err != nil {
		return 0, fmt.Errorf("%w: token balance of %s: %w", domain.ErrInsufficientFunds, mint, err)
	}
	return bal.Amount, nil
}

var hundred = decimal.NewFromInt(100)

// SellAmount is floor(holdings * percent / 100).
func SellAmount(holdings uint64, percent int) uint64 {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return holdings
	}
	amount := decimal.NewFromBigInt(new(big.Int).SetUint64(holdings), 0).
		Mul(decimal.NewFromInt(int64(percent))).
		Div(hundred).
		Floor()
	return amount.BigInt().Uint64()
}
