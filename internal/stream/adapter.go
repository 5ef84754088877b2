// Package stream turns feed subscriptions into a single sequence of raw update events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/venue"
)

// ErrAlreadyStarted is returned by a second call to Events.
var ErrAlreadyStarted = errors.New("stream already started")

// Options configures the adapter.
type Options struct {
	// TargetWallet must be referenced by every delivered transaction.
	TargetWallet string
	// Commitment is the subscription commitment level.
	Commitment string
	// WatchNewPools adds the new-pool account subscription.
	WatchNewPools bool
	// Buffer is the capacity of the event channel.
	Buffer int
	Logger *zap.Logger
}

// Adapter owns the feed subscriptions for the life of one connection.
// It is not restartable: once the sequence ends a new Adapter is needed.
type Adapter struct {
	ws     solana.WSClient
	opts   Options
	logger *zap.Logger

	started atomic.Bool
	mu      sync.Mutex
	err     error
}

// NewAdapter creates an adapter over an open websocket client.
func NewAdapter(ws solana.WSClient, opts Options) *Adapter {
	if opts.Commitment == "" {
		opts.Commitment = solana.CommitmentProcessed
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{ws: ws, opts: opts, logger: logger.Named("stream")}
}

// Events subscribes and returns the event sequence. The channel closes when the
// connection ends or ctx is done; Err then tells a transport failure from a clean end.
func (a *Adapter) Events(ctx context.Context) (<-chan domain.RawUpdateEvent, error) {
	if a.started.Swap(true) {
		return nil, ErrAlreadyStarted
	}
	if a.opts.TargetWallet == "" {
		return nil, fmt.Errorf("%w: no target wallet", domain.ErrFeed)
	}

	txs, err := a.ws.SubscribeTransactions(ctx, solana.TransactionFilter{
		AccountRequired: []string{a.opts.TargetWallet},
		IncludeFailed:   false,
		Commitment:      a.opts.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe transactions: %w", domain.ErrFeed, err)
	}

	var pools <-chan solana.ProgramNotification
	if a.opts.WatchNewPools {
		pools, err = a.ws.SubscribeProgram(ctx, solana.RaydiumAMMV4, venue.NewPoolFilters())
		if err != nil {
			return nil, fmt.Errorf("%w: subscribe new pools: %w", domain.ErrFeed, err)
		}
	}

	a.logger.Info("feed subscribed",
		zap.String("target", a.opts.TargetWallet),
		zap.String("commitment", a.opts.Commitment),
		zap.Bool("new_pools", a.opts.WatchNewPools))

	out := make(chan domain.RawUpdateEvent, a.opts.Buffer)
	go a.run(ctx, txs, pools, out)
	return out, nil
}

// Err returns the FeedError that ended the sequence, or nil after a clean end.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Adapter) run(ctx context.Context, txs <-chan solana.TransactionNotification, pools <-chan solana.ProgramNotification, out chan<- domain.RawUpdateEvent) {
	defer close(out)

	for {
		var ev domain.RawUpdateEvent
		select {
		case <-ctx.Done():
			return
		case n, ok := <-txs:
			if !ok {
				a.finish()
				return
			}
			ev = TransactionEvent(n)
		case n, ok := <-pools:
			if !ok {
				// Both subscriptions share one connection; the transaction
				// channel reports the end.
				pools = nil
				continue
			}
			ev = AccountEvent(n)
		}

		observability.RecordFeedEvent(string(ev.Kind), uint64(ev.Slot))

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) finish() {
	wsErr := a.ws.Err()
	if wsErr == nil {
		a.logger.Info("feed closed by remote")
		return
	}
	a.logger.Error("feed terminated", zap.Error(wsErr))
	a.mu.Lock()
	a.err = fmt.Errorf("%w: %w", domain.ErrFeed, wsErr)
	a.mu.Unlock()
}

// TransactionEvent converts a transaction notification into a raw update event.
// Undecodable notifications keep only the payload.
func TransactionEvent(n solana.TransactionNotification) domain.RawUpdateEvent {
	ev := domain.RawUpdateEvent{
		Kind:       domain.UpdateKindTransaction,
		Slot:       int64(n.Slot),
		ReceivedAt: time.Now().UTC(),
		Payload:    n.Raw,
	}
	if n.DecodeErr != nil {
		return ev
	}
	ev.Tx = &domain.TxUpdate{
		Signature:         n.Signature,
		AccountKeys:       n.AccountKeys,
		LogMessages:       n.LogMessages,
		Failed:            n.Err != nil,
		PreBalances:       n.PreBalances,
		PostBalances:      n.PostBalances,
		PreTokenBalances:  tokenBalances(n.PreTokenBalances),
		PostTokenBalances: tokenBalances(n.PostTokenBalances),
	}
	return ev
}

// AccountEvent converts a program notification into a raw update event.
func AccountEvent(n solana.ProgramNotification) domain.RawUpdateEvent {
	ev := domain.RawUpdateEvent{
		Kind:       domain.UpdateKindAccount,
		Slot:       int64(n.Slot),
		ReceivedAt: time.Now().UTC(),
		Payload:    n.Raw,
	}
	if n.DecodeErr != nil {
		return ev
	}
	ev.Account = &domain.AccountUpdate{
		Pubkey:   n.Pubkey,
		Owner:    n.Account.Owner,
		Lamports: n.Account.Lamports,
		Data:     n.Account.Data,
	}
	return ev
}

func tokenBalances(in []solana.TokenBalance) []domain.TokenBalance {
	if in == nil {
		return nil
	}
	out := make([]domain.TokenBalance, len(in))
	for i, b := range in {
		out[i] = domain.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.Amount,
			Decimals:     b.Decimals,
		}
	}
	return out
}
