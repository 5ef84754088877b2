// Package redisfeed publishes the audit trail to Redis streams for live consumers.
package redisfeed

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/idhash"
	"solana-copy-trader/internal/storage"
)

// DefaultMaxLen caps every stream, approximately.
const DefaultMaxLen = 100_000

// Options configures the publisher.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix namespaces every key: <prefix>:events, <prefix>:signals, <prefix>:executions, <prefix>:runs.
	Prefix string
	MaxLen int64
}

// Publisher writes audit records as stream entries.
type Publisher struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
}

var _ storage.Sink = (*Publisher)(nil)

// NewPublisher creates a publisher. The connection is lazy; call Ping to verify it.
func NewPublisher(opts Options) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		DB:       opts.DB,
		Username: opts.Username,
		Password: opts.Password,
	})
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "copytrader"
	}
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Publisher{rdb: rdb, prefix: prefix, maxLen: maxLen}
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Key returns the namespaced key for name.
func (p *Publisher) Key(name string) string {
	return p.prefix + ":" + name
}

// InsertRawEvent appends a feed event summary to <prefix>:events. The payload is not published.
func (p *Publisher) InsertRawEvent(ctx context.Context, ev *domain.RawUpdateEvent) error {
	if ev == nil || ev.Kind == "" {
		return storage.ErrInvalidInput
	}
	key := ""
	switch {
	case ev.Tx != nil:
		key = ev.Tx.Signature
	case ev.Account != nil:
		key = ev.Account.Pubkey
	}
	return p.add(ctx, "events", map[string]interface{}{
		"event_id":    idhash.EventID(ev),
		"kind":        string(ev.Kind),
		"slot":        ev.Slot,
		"key":         key,
		"received_ms": ev.ReceivedAt.UnixMilli(),
		"size":        len(ev.Payload),
	})
}

// InsertSignal appends a classified signal to <prefix>:signals.
func (p *Publisher) InsertSignal(ctx context.Context, s *domain.TradeSignal) error {
	if s == nil || s.SourceSignature == "" || s.Mint == "" {
		return storage.ErrInvalidInput
	}
	return p.add(ctx, "signals", map[string]interface{}{
		"signal_id":        idhash.SignalID(s),
		"source_signature": s.SourceSignature,
		"slot":             s.Slot,
		"mint":             s.Mint,
		"direction":        string(s.Direction),
		"venue":            s.Venue,
		"base_delta":       s.BaseDelta,
		"instrument_delta": s.InstrumentDelta,
		"decimals":         int(s.Decimals),
		"detected_ms":      s.DetectedAt.UnixMilli(),
	})
}

// InsertExecution indexes the run in <prefix>:runs and appends it to <prefix>:executions.
// Returns ErrDuplicateKey if run_id was already indexed.
func (p *Publisher) InsertExecution(ctx context.Context, r *domain.ExecutionRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	added, err := p.rdb.ZAddNX(ctx, p.Key("runs"), redis.Z{
		Score:  float64(r.StartedAt.UnixMilli()),
		Member: r.RunID,
	}).Result()
	if err != nil {
		return fmt.Errorf("index run: %w", err)
	}
	if added == 0 {
		return storage.ErrDuplicateKey
	}

	landed := "0"
	if r.Landed {
		landed = "1"
	}
	return p.add(ctx, "executions", map[string]interface{}{
		"run_id":           r.RunID,
		"source_signature": r.SourceSignature,
		"mint":             r.Mint,
		"direction":        string(r.Direction),
		"venue":            r.Venue,
		"route_kind":       string(r.RouteKind),
		"amount_in":        strconv.FormatUint(r.AmountIn, 10),
		"channel":          r.Channel,
		"signature":        r.Signature,
		"bundle_id":        r.BundleID,
		"landed":           landed,
		"final_state":      r.FinalState,
		"error_kind":       string(r.ErrorKind),
		"error_message":    r.ErrorMessage,
		"started_ms":       r.StartedAt.UnixMilli(),
		"finished_ms":      r.FinishedAt.UnixMilli(),
	})
}

func (p *Publisher) add(ctx context.Context, stream string, values map[string]interface{}) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Key(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
