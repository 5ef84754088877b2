package venue

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/mr-tron/base58"

	"solana-copy-trader/internal/solana"
)

// Raydium AMM v4 pool state layout.
const (
	PoolStateV4Size = 752

	poolBaseDecimal     = 32
	poolQuoteDecimal    = 40
	poolPoolOpenTime    = 224
	poolSwapBaseIn      = 256 // u128, low half read
	poolSwapQuoteIn     = 296
	poolSwapBaseOut     = 312
	poolBaseVault       = 336
	poolQuoteVault      = 368
	poolBaseMint        = 400
	poolQuoteMint       = 432
	poolLPMint          = 464
	poolOpenOrders      = 496
	poolMarketID        = 528
	poolMarketProgramID = 560
	poolTargetOrders    = 592
)

// OpenBook / Serum v3 market state layout.
const (
	MarketStateV3Size = 388

	marketOwnAddress       = 13
	marketVaultSignerNonce = 45
	marketBaseMint         = 53
	marketQuoteMint        = 85
	marketBaseVault        = 117
	marketQuoteVault       = 165
	marketEventQueue       = 253
	marketBids             = 285
	marketAsks             = 317
)

// pump.fun bonding curve layout (after the 8-byte account discriminator).
const (
	bondingCurveMinSize       = 49
	curveVirtualTokenReserves = 8
	curveVirtualSOLReserves   = 16
	curveRealTokenReserves    = 24
	curveRealSOLReserves      = 32
	curveTokenTotalSupply     = 40
	curveComplete             = 48
)

// zeroU64 is eight zero bytes in base58.
var zeroU64 = base58.Encode(make([]byte, 8))

// PoolStateV4 is the subset of a Raydium AMM v4 pool account used for routing.
type PoolStateV4 struct {
	BaseDecimal       uint64
	QuoteDecimal      uint64
	PoolOpenTime      uint64
	SwapBaseInAmount  uint64
	SwapQuoteInAmount uint64
	SwapBaseOutAmount uint64

	BaseVault       string
	QuoteVault      string
	BaseMint        string
	QuoteMint       string
	LPMint          string
	OpenOrders      string
	MarketID        string
	MarketProgramID string
	TargetOrders    string
}

// DecodePoolStateV4 decodes a Raydium AMM v4 pool account.
func DecodePoolStateV4(data []byte) (*PoolStateV4, error) {
	if len(data) != PoolStateV4Size {
		return nil, fmt.Errorf("pool state: got %d bytes, want %d", len(data), PoolStateV4Size)
	}
	return &PoolStateV4{
		BaseDecimal:       u64(data, poolBaseDecimal),
		QuoteDecimal:      u64(data, poolQuoteDecimal),
		PoolOpenTime:      u64(data, poolPoolOpenTime),
		SwapBaseInAmount:  u64(data, poolSwapBaseIn),
		SwapQuoteInAmount: u64(data, poolSwapQuoteIn),
		SwapBaseOutAmount: u64(data, poolSwapBaseOut),
		BaseVault:         key(data, poolBaseVault),
		QuoteVault:        key(data, poolQuoteVault),
		BaseMint:          key(data, poolBaseMint),
		QuoteMint:         key(data, poolQuoteMint),
		LPMint:            key(data, poolLPMint),
		OpenOrders:        key(data, poolOpenOrders),
		MarketID:          key(data, poolMarketID),
		MarketProgramID:   key(data, poolMarketProgramID),
		TargetOrders:      key(data, poolTargetOrders),
	}, nil
}

// IsNew reports whether the pool has never traded.
func (p *PoolStateV4) IsNew() bool {
	return p.SwapQuoteInAmount == 0 && p.SwapBaseOutAmount == 0
}

// MarketStateV3 is the subset of an OpenBook market account used for swaps.
type MarketStateV3 struct {
	OwnAddress       string
	VaultSignerNonce uint64
	BaseMint         string
	QuoteMint        string
	BaseVault        string
	QuoteVault       string
	EventQueue       string
	Bids             string
	Asks             string
}

// DecodeMarketStateV3 decodes an OpenBook v3 market account.
func DecodeMarketStateV3(data []byte) (*MarketStateV3, error) {
	if len(data) < MarketStateV3Size {
		return nil, fmt.Errorf("market state: got %d bytes, want %d", len(data), MarketStateV3Size)
	}
	return &MarketStateV3{
		OwnAddress:       key(data, marketOwnAddress),
		VaultSignerNonce: u64(data, marketVaultSignerNonce),
		BaseMint:         key(data, marketBaseMint),
		QuoteMint:        key(data, marketQuoteMint),
		BaseVault:        key(data, marketBaseVault),
		QuoteVault:       key(data, marketQuoteVault),
		EventQueue:       key(data, marketEventQueue),
		Bids:             key(data, marketBids),
		Asks:             key(data, marketAsks),
	}, nil
}

// BondingCurve is a pump.fun bonding curve account.
type BondingCurve struct {
	VirtualTokenReserves uint64
	VirtualSOLReserves   uint64
	RealTokenReserves    uint64
	RealSOLReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// DecodeBondingCurve decodes a pump.fun bonding curve account.
func DecodeBondingCurve(data []byte) (*BondingCurve, error) {
	if len(data) < bondingCurveMinSize {
		return nil, fmt.Errorf("bonding curve: got %d bytes, want at least %d", len(data), bondingCurveMinSize)
	}
	return &BondingCurve{
		VirtualTokenReserves: u64(data, curveVirtualTokenReserves),
		VirtualSOLReserves:   u64(data, curveVirtualSOLReserves),
		RealTokenReserves:    u64(data, curveRealTokenReserves),
		RealSOLReserves:      u64(data, curveRealSOLReserves),
		TokenTotalSupply:     u64(data, curveTokenTotalSupply),
		Complete:             data[curveComplete] != 0,
	}, nil
}

// BuyQuote returns the tokens received for solIn lamports, capped by the real reserves.
func (c *BondingCurve) BuyQuote(solIn uint64) uint64 {
	if solIn == 0 || c.VirtualSOLReserves == 0 {
		return 0
	}
	out := mulDiv(c.VirtualTokenReserves, solIn, c.VirtualSOLReserves+solIn)
	if out > c.RealTokenReserves {
		out = c.RealTokenReserves
	}
	return out
}

// SellQuote returns the lamports received for tokensIn.
func (c *BondingCurve) SellQuote(tokensIn uint64) uint64 {
	if tokensIn == 0 || c.VirtualTokenReserves == 0 {
		return 0
	}
	return mulDiv(c.VirtualSOLReserves, tokensIn, c.VirtualTokenReserves+tokensIn)
}

// NewPoolFilters matches Raydium AMM v4 pools quoted in WSOL on an OpenBook market
// whose swap counters are still zero.
func NewPoolFilters() []solana.AccountFilter {
	return []solana.AccountFilter{
		solana.DataSizeFilter(PoolStateV4Size),
		solana.MemcmpBase58(poolQuoteMint, solana.WSOLMint),
		solana.MemcmpBase58(poolMarketProgramID, solana.OpenBookProgramID),
		solana.MemcmpBase58(poolSwapQuoteIn, zeroU64),
		solana.MemcmpBase58(poolSwapBaseOut, zeroU64),
	}
}

// PoolByMintFilters matches Raydium AMM v4 pools pairing base with quote.
func PoolByMintFilters(base, quote string) []solana.AccountFilter {
	return []solana.AccountFilter{
		solana.DataSizeFilter(PoolStateV4Size),
		solana.MemcmpBase58(poolBaseMint, base),
		solana.MemcmpBase58(poolQuoteMint, quote),
	}
}

func u64(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+8])
}

func key(data []byte, offset int) string {
	return base58.Encode(data[offset : offset+32])
}

// mulDiv computes a*b/c without overflowing for amounts up to 2^64.
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}
