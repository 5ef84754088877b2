// Package router picks the execution path for a trade signal.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/retry"
	"solana-copy-trader/internal/venue"
)

// Default pool resolution policy.
const (
	DefaultResolveAttempts = 2
	DefaultResolveDelay    = 10 * time.Millisecond
)

// Options configures the router.
type Options struct {
	Registry *venue.Registry
	// Fallback is the aggregator used for remainder unwinds and for signals
	// whose venue is not registered.
	Fallback venue.Venue
	// Owner is the trading wallet address.
	Owner string

	ResolveAttempts int
	ResolveDelay    time.Duration

	Logger *zap.Logger
}

// Router dispatches signals to their venue. It holds no per-trade state.
type Router struct {
	registry *venue.Registry
	fallback venue.Venue
	owner    string
	policy   retry.Policy
	logger   *zap.Logger
}

// New creates a router.
func New(opts Options) (*Router, error) {
	if opts.Registry == nil {
		return nil, errors.New("router: registry is required")
	}
	if opts.Fallback != nil && opts.Fallback.Kind().Direct() {
		return nil, fmt.Errorf("router: fallback venue %s is not an aggregator", opts.Fallback.Name())
	}
	if opts.ResolveAttempts < 1 {
		opts.ResolveAttempts = DefaultResolveAttempts
	}
	if opts.ResolveDelay <= 0 {
		opts.ResolveDelay = DefaultResolveDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: opts.Registry,
		fallback: opts.Fallback,
		owner:    opts.Owner,
		policy:   retry.Fixed(opts.ResolveAttempts, opts.ResolveDelay),
		logger:   logger.Named("router"),
	}, nil
}

// Route resolves the route for signal spending amount (lamports for BUY,
// raw token units for SELL). Every failure wraps ErrRouteUnavailable.
func (r *Router) Route(ctx context.Context, signal *domain.TradeSignal, amount uint64) (*domain.Route, error) {
	if signal == nil {
		return nil, fmt.Errorf("%w: nil signal", domain.ErrRouteUnavailable)
	}
	v, ok := r.registry.ByName(signal.Venue)
	if !ok {
		if r.fallback == nil {
			return nil, fmt.Errorf("%w: unknown venue %q", domain.ErrRouteUnavailable, signal.Venue)
		}
		r.logger.Info("venue not registered, using aggregator",
			zap.String("venue", signal.Venue),
			zap.String("aggregator", r.fallback.Name()),
		)
		v = r.fallback
	}
	return r.resolve(ctx, v, venue.RouteRequest{
		Direction: signal.Direction,
		Mint:      signal.Mint,
		AmountIn:  amount,
		Owner:     r.owner,
	})
}

// Unwind resolves an aggregator SELL of amount raw units of mint.
func (r *Router) Unwind(ctx context.Context, mint string, amount uint64) (*domain.Route, error) {
	if r.fallback == nil {
		return nil, fmt.Errorf("%w: no aggregator configured", domain.ErrRouteUnavailable)
	}
	return r.resolve(ctx, r.fallback, venue.RouteRequest{
		Direction: domain.DirectionSell,
		Mint:      mint,
		AmountIn:  amount,
		Owner:     r.owner,
	})
}

func (r *Router) resolve(ctx context.Context, v venue.Venue, req venue.RouteRequest) (*domain.Route, error) {
	if req.AmountIn == 0 {
		return nil, fmt.Errorf("%w: zero amount", domain.ErrRouteUnavailable)
	}

	start := time.Now()
	defer func() { observability.RecordStage("route", time.Since(start)) }()

	var (
		route *domain.Route
		err   error
	)
	if v.Kind().Direct() {
		route, err = retry.DoValue(ctx, r.policy, func(ctx context.Context, attempt int) (*domain.Route, error) {
			if attempt > 0 {
				r.logger.Debug("retrying pool resolution",
					zap.String("venue", v.Name()),
					zap.String("mint", req.Mint),
					zap.Int("attempt", attempt+1),
				)
			}
			return v.ResolveRoute(ctx, req)
		})
	} else {
		route, err = v.ResolveRoute(ctx, req)
		if err == nil && len(route.SwapTransaction) == 0 {
			err = errors.New("empty swap payload")
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrRouteUnavailable) {
			return nil, fmt.Errorf("%s %s: %w", v.Name(), req.Mint, err)
		}
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrRouteUnavailable, v.Name(), req.Mint, err)
	}

	r.logger.Debug("route resolved",
		zap.String("venue", route.Venue),
		zap.String("kind", string(route.Kind)),
		zap.String("mint", route.Mint),
		zap.Uint64("amount_in", route.AmountIn),
	)
	return route, nil
}
