package venue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/jupiter"
	"solana-copy-trader/internal/solana"
)

type fakeSwapAPI struct {
	quotes []jupiter.QuoteRequest
	swaps  []jupiter.SwapRequest

	quoteErr error
	payload  string
}

func (f *fakeSwapAPI) Quote(_ context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error) {
	f.quotes = append(f.quotes, req)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &jupiter.Quote{OutAmount: "4200", Raw: json.RawMessage(`{}`)}, nil
}

func (f *fakeSwapAPI) Swap(_ context.Context, req jupiter.SwapRequest) (*jupiter.SwapResponse, error) {
	f.swaps = append(f.swaps, req)
	return &jupiter.SwapResponse{SwapTransaction: f.payload, LastValidBlockHeight: 99}, nil
}

func TestAggregator_ResolveRouteBuy(t *testing.T) {
	api := &fakeSwapAPI{payload: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})}
	v := NewJupiter(api, AggregatorOptions{SlippageBps: 1000, PriorityFeeLamports: 52000})

	route, err := v.ResolveRoute(context.Background(), RouteRequest{
		Direction: domain.DirectionBuy, Mint: "mint", AmountIn: 10_000_000, Owner: "owner",
	})
	require.NoError(t, err)

	require.Len(t, api.quotes, 1)
	q := api.quotes[0]
	assert.Equal(t, solana.WSOLMint, q.InputMint)
	assert.Equal(t, "mint", q.OutputMint)
	assert.Equal(t, uint64(10_000_000), q.Amount)
	assert.Equal(t, jupiter.SwapModeExactIn, q.SwapMode)
	assert.Equal(t, 1000, q.SlippageBps)

	require.Len(t, api.swaps, 1)
	s := api.swaps[0]
	assert.Equal(t, "owner", s.UserPublicKey)
	assert.True(t, s.WrapAndUnwrapSOL)
	assert.True(t, s.DynamicComputeUnitLimit)
	assert.Equal(t, uint64(52000), s.PrioritizationFeeLamports)

	assert.Equal(t, domain.RouteAggregator, route.Kind)
	assert.Equal(t, []byte{1, 2, 3}, route.SwapTransaction)
	assert.Equal(t, uint64(99), route.LastValidBlockHeight)
	assert.Equal(t, uint64(4200), route.QuotedOutAmount)
}

func TestAggregator_ResolveRouteSell(t *testing.T) {
	api := &fakeSwapAPI{payload: base64.StdEncoding.EncodeToString([]byte{9})}
	v := NewPumpSwap(api, AggregatorOptions{BuySwapMode: jupiter.SwapModeExactOut})

	_, err := v.ResolveRoute(context.Background(), RouteRequest{Direction: domain.DirectionSell, Mint: "mint", AmountIn: 5})
	require.NoError(t, err)

	q := api.quotes[0]
	assert.Equal(t, "mint", q.InputMint)
	assert.Equal(t, solana.WSOLMint, q.OutputMint)
	assert.Equal(t, jupiter.SwapModeExactIn, q.SwapMode, "sells always spend an exact token amount")
}

func TestAggregator_ResolveRouteBuyExactOut(t *testing.T) {
	api := &fakeSwapAPI{payload: base64.StdEncoding.EncodeToString([]byte{9})}
	v := NewJupiter(api, AggregatorOptions{BuySwapMode: jupiter.SwapModeExactOut})

	_, err := v.ResolveRoute(context.Background(), RouteRequest{Direction: domain.DirectionBuy, Mint: "mint", AmountIn: 5})
	require.NoError(t, err)
	assert.Equal(t, jupiter.SwapModeExactOut, api.quotes[0].SwapMode)
}

func TestAggregator_QuoteFailure(t *testing.T) {
	api := &fakeSwapAPI{quoteErr: jupiter.ErrNoRoute}
	_, err := NewJupiter(api, AggregatorOptions{}).ResolveRoute(context.Background(), RouteRequest{Direction: domain.DirectionBuy, Mint: "mint", AmountIn: 1})
	assert.ErrorIs(t, err, jupiter.ErrNoRoute)
	assert.Empty(t, api.swaps)
}

func TestAggregator_BuildSwapUnsupported(t *testing.T) {
	_, err := NewJupiter(&fakeSwapAPI{}, AggregatorOptions{}).BuildSwap(context.Background(), &domain.Route{}, SwapParams{})
	assert.ErrorIs(t, err, domain.ErrBuildFailure)
}
