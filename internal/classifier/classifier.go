// Package classifier turns transactions of the watched wallet into trade signals.
package classifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/solana"
	"solana-copy-trader/internal/storage"
	"solana-copy-trader/internal/venue"
)

// Options configures the classifier.
type Options struct {
	// Target is the watched wallet.
	Target string
	// BaseMint is the base currency mint. Defaults to WSOL.
	BaseMint string
	Registry *venue.Registry
	// Audit receives raw events and signals. Optional; write errors are logged only.
	Audit  storage.AuditStore
	Logger *zap.Logger
}

// Classifier is stateless apart from its configuration and safe for concurrent use.
type Classifier struct {
	target   string
	baseMint string
	registry *venue.Registry
	audit    storage.AuditStore
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a classifier.
func New(opts Options) *Classifier {
	if opts.BaseMint == "" {
		opts.BaseMint = solana.WSOLMint
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		target:   opts.Target,
		baseMint: opts.BaseMint,
		registry: opts.Registry,
		audit:    opts.Audit,
		logger:   logger.Named("classifier"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Qualifies reports whether ev may start a pipeline run: a decoded, successful
// transaction that references the target and invokes a known venue.
// It does no I/O and is checked before the guard is touched.
func (c *Classifier) Qualifies(ev domain.RawUpdateEvent) bool {
	if ev.Kind != domain.UpdateKindTransaction || ev.Tx == nil || ev.Tx.Failed {
		return false
	}
	if !ev.Tx.References(c.target) {
		return false
	}
	_, ok := c.registry.MatchLogs(ev.Tx.LogMessages)
	return ok
}

// Classify extracts the target's trade from ev.
// Malformed events return ErrDecode; events without a usable trade return
// ErrClassificationReject.
func (c *Classifier) Classify(ctx context.Context, ev domain.RawUpdateEvent) (*domain.TradeSignal, error) {
	c.auditEvent(ctx, &ev)

	signal, err := c.classify(ev)
	if err != nil {
		observability.RecordReject(string(domain.Kind(err)))
		return nil, err
	}

	observability.RecordSignal(string(signal.Direction), signal.Venue)
	c.auditSignal(ctx, signal)
	return signal, nil
}

func (c *Classifier) classify(ev domain.RawUpdateEvent) (*domain.TradeSignal, error) {
	if ev.Kind != domain.UpdateKindTransaction {
		return nil, fmt.Errorf("%w: %s update is not a transaction", domain.ErrClassificationReject, ev.Kind)
	}
	tx := ev.Tx
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction payload could not be decoded", domain.ErrDecode)
	}
	if tx.Failed {
		return nil, fmt.Errorf("%w: transaction %s failed", domain.ErrClassificationReject, tx.Signature)
	}
	if !tx.References(c.target) {
		return nil, fmt.Errorf("%w: transaction %s does not reference target", domain.ErrClassificationReject, tx.Signature)
	}

	v, ok := c.registry.MatchLogs(tx.LogMessages)
	if !ok {
		return nil, fmt.Errorf("%w: no known venue in %s", domain.ErrClassificationReject, tx.Signature)
	}

	mint, decimals, ok := c.instrumentMint(tx)
	if !ok {
		return nil, fmt.Errorf("%w: no instrument balance in %s", domain.ErrClassificationReject, tx.Signature)
	}

	instrumentDelta := tokenDelta(tx, mint, c.target)
	direction, ok := domain.DirectionFromDelta(instrumentDelta)
	if !ok {
		return nil, fmt.Errorf("%w: target balance of %s unchanged", domain.ErrClassificationReject, mint)
	}

	signal := &domain.TradeSignal{
		SourceSignature: tx.Signature,
		Slot:            ev.Slot,
		Mint:            mint,
		Direction:       direction,
		Venue:           v.Name(),
		VenueProgram:    v.ProgramID(),
		BaseDelta:       c.baseDelta(tx),
		InstrumentDelta: instrumentDelta,
		Decimals:        decimals,
		DetectedAt:      c.now(),
	}
	if err := signal.Validate(); err != nil {
		return nil, err
	}
	return signal, nil
}

// instrumentMint returns the first pre-balance mint that is not the base currency.
func (c *Classifier) instrumentMint(tx *domain.TxUpdate) (string, uint8, bool) {
	for _, b := range tx.PreTokenBalances {
		if b.Mint != c.baseMint {
			return b.Mint, b.Decimals, true
		}
	}
	return "", 0, false
}

// baseDelta prefers the target's wrapped SOL balances and falls back to its
// native lamport balance.
func (c *Classifier) baseDelta(tx *domain.TxUpdate) int64 {
	if hasTokenBalance(tx, c.baseMint, c.target) {
		return tokenDelta(tx, c.baseMint, c.target)
	}
	for i, key := range tx.AccountKeys {
		if key != c.target {
			continue
		}
		if i < len(tx.PreBalances) && i < len(tx.PostBalances) {
			return int64(tx.PreBalances[i]) - int64(tx.PostBalances[i])
		}
		break
	}
	return 0
}

// tokenDelta is pre - post of owner's balances of mint; absent entries count as zero.
func tokenDelta(tx *domain.TxUpdate, mint, owner string) int64 {
	return sumBalances(tx.PreTokenBalances, mint, owner) - sumBalances(tx.PostTokenBalances, mint, owner)
}

func sumBalances(balances []domain.TokenBalance, mint, owner string) int64 {
	var total int64
	for _, b := range balances {
		if b.Mint == mint && b.Owner == owner {
			total += int64(b.Amount)
		}
	}
	return total
}

func hasTokenBalance(tx *domain.TxUpdate, mint, owner string) bool {
	for _, set := range [][]domain.TokenBalance{tx.PreTokenBalances, tx.PostTokenBalances} {
		for _, b := range set {
			if b.Mint == mint && b.Owner == owner {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) auditEvent(ctx context.Context, ev *domain.RawUpdateEvent) {
	if c.audit == nil {
		return
	}
	if err := c.audit.InsertRawEvent(ctx, ev); err != nil {
		c.logger.Warn("audit raw event failed", zap.Int64("slot", ev.Slot), zap.Error(err))
	}
}

func (c *Classifier) auditSignal(ctx context.Context, s *domain.TradeSignal) {
	if c.audit == nil {
		return
	}
	if err := c.audit.InsertSignal(ctx, s); err != nil {
		c.logger.Warn("audit signal failed", zap.String("signature", s.SourceSignature), zap.Error(err))
	}
}
