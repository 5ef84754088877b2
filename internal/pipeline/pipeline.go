// Package pipeline drives the copy-trade run for every qualifying feed event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/guard"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/storage"
)

// DefaultRunTimeout bounds one run, so the guard always returns to IDLE.
const DefaultRunTimeout = 2 * time.Minute

// EventSource is the feed event sequence.
type EventSource interface {
	Events(ctx context.Context) (<-chan domain.RawUpdateEvent, error)
	// Err reports the FeedError that closed the sequence, nil on a clean end.
	Err() error
}

// Classifier turns events into signals.
type Classifier interface {
	Qualifies(ev domain.RawUpdateEvent) bool
	Classify(ctx context.Context, ev domain.RawUpdateEvent) (*domain.TradeSignal, error)
}

// Router resolves execution routes.
type Router interface {
	Route(ctx context.Context, signal *domain.TradeSignal, amount uint64) (*domain.Route, error)
	Unwind(ctx context.Context, mint string, amount uint64) (*domain.Route, error)
}

// Sizer computes trade amounts from wallet balances.
type Sizer interface {
	Amount(ctx context.Context, direction domain.Direction, mint string) (uint64, error)
	Holdings(ctx context.Context, mint string) (uint64, error)
	SellPercent() int
}

// Builder signs the transaction for a route.
type Builder interface {
	Build(ctx context.Context, runID string, route *domain.Route) (*domain.SwapPlan, error)
}

// Submitter lands a signed plan.
type Submitter interface {
	Submit(ctx context.Context, plan *domain.SwapPlan) (*domain.SubmissionResult, error)
}

// Options wires the pipeline components.
type Options struct {
	Source     EventSource
	Classifier Classifier
	Router     Router
	Sizer      Sizer
	Builder    Builder
	Submitter  Submitter
	Guard      *guard.Guard

	// Executions receives one record per run. Optional.
	Executions storage.ExecutionStore
	// UnwindRemainder sells any residual balance through the aggregator after a full sell lands.
	UnwindRemainder bool
	RunTimeout      time.Duration

	Logger *zap.Logger
}

// Pipeline is the single consumer of the feed.
type Pipeline struct {
	opts   Options
	guard  *guard.Guard
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	wg sync.WaitGroup
}

// New creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	var missing []string
	if opts.Source == nil {
		missing = append(missing, "source")
	}
	if opts.Classifier == nil {
		missing = append(missing, "classifier")
	}
	if opts.Router == nil {
		missing = append(missing, "router")
	}
	if opts.Sizer == nil {
		missing = append(missing, "sizer")
	}
	if opts.Builder == nil {
		missing = append(missing, "builder")
	}
	if opts.Submitter == nil {
		missing = append(missing, "submitter")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing %v", missing)
	}
	if opts.Guard == nil {
		opts.Guard = guard.New(observability.SetGuardBusy)
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		opts:   opts,
		guard:  opts.Guard,
		logger: logger.Named("pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// Run consumes the feed until it ends. It returns the FeedError that ended the
// sequence, or nil on a clean close or cancellation. The in-flight run, if
// any, finishes before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	events, err := p.opts.Source.Events(ctx)
	if err != nil {
		return err
	}
	defer p.wg.Wait()

	for ev := range events {
		p.dispatch(ctx, ev)
	}
	return p.opts.Source.Err()
}

// Wait blocks until the in-flight run finishes.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) dispatch(ctx context.Context, ev domain.RawUpdateEvent) {
	if ev.Kind == domain.UpdateKindTransaction && ev.Tx == nil {
		observability.RecordDecodeError()
	}
	if !p.opts.Classifier.Qualifies(ev) {
		return
	}

	release, ok := p.guard.TryAcquire()
	if !ok {
		observability.RecordDroppedBusy()
		p.logger.Info("run in progress, event dropped",
			zap.String("signature", ev.Tx.Signature),
			zap.Int64("slot", ev.Slot),
		)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer release()
		p.execute(ctx, ev)
	}()
}

// execute performs one run. The caller holds the guard.
func (p *Pipeline) execute(parent context.Context, ev domain.RawUpdateEvent) {
	ctx, cancel := context.WithTimeout(parent, p.opts.RunTimeout)
	defer cancel()

	r := &run{
		record: domain.ExecutionRecord{
			RunID:           p.newID(),
			SourceSignature: ev.Tx.Signature,
			StartedAt:       p.now(),
		},
		state: StateDetected,
	}
	logger := p.logger.With(zap.String("run_id", r.record.RunID), zap.String("source", ev.Tx.Signature))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("run panicked", zap.Any("panic", rec), zap.Stack("stack"))
			r.fail(fmt.Errorf("panic: %v", rec))
		}
		p.finish(logger, r)
	}()

	err := p.steps(ctx, logger, r, ev)
	if err != nil {
		r.fail(err)
		return
	}
	r.transition(StateConfirmed)

	if p.opts.UnwindRemainder && r.record.Direction == domain.DirectionSell && p.opts.Sizer.SellPercent() >= 100 {
		p.unwind(ctx, logger, r)
	}
}

func (p *Pipeline) steps(ctx context.Context, logger *zap.Logger, r *run, ev domain.RawUpdateEvent) error {
	signal, err := p.opts.Classifier.Classify(ctx, ev)
	if err != nil {
		return err
	}
	r.transition(StateClassified)
	r.record.Mint = signal.Mint
	r.record.Direction = signal.Direction
	r.record.Venue = signal.Venue
	logger.Info("trade detected",
		zap.String("mint", signal.Mint),
		zap.String("direction", string(signal.Direction)),
		zap.String("venue", signal.Venue),
		zap.Int64("instrument_delta", signal.InstrumentDelta),
		zap.Int64("base_delta", signal.BaseDelta),
	)

	amount, err := p.opts.Sizer.Amount(ctx, signal.Direction, signal.Mint)
	if err != nil {
		return err
	}
	r.record.AmountIn = amount

	route, err := p.opts.Router.Route(ctx, signal, amount)
	if err != nil {
		return err
	}
	r.transition(StateRouted)
	r.record.RouteKind = route.Kind
	r.record.Venue = route.Venue

	return p.submit(ctx, logger, r, route)
}

func (p *Pipeline) submit(ctx context.Context, logger *zap.Logger, r *run, route *domain.Route) error {
	plan, err := p.opts.Builder.Build(ctx, r.record.RunID, route)
	if err != nil {
		return err
	}
	r.transition(StateBuilt)
	r.record.Signature = plan.Signature()

	res, err := p.opts.Submitter.Submit(ctx, plan)
	if res != nil {
		r.record.Channel = res.Channel
		r.record.BundleID = res.BundleID
		if res.Signature != "" {
			r.record.Signature = res.Signature
		}
		r.record.Landed = res.Landed
	}
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationTimeout) {
			r.transition(StateSubmitted)
		}
		return err
	}
	r.transition(StateSubmitted)
	logger.Info("transaction landed",
		zap.String("signature", r.record.Signature),
		zap.String("channel", r.record.Channel),
	)
	return nil
}

// unwind sells whatever the full sell left behind. Failures are logged only.
func (p *Pipeline) unwind(ctx context.Context, logger *zap.Logger, r *run) {
	holdings, err := p.opts.Sizer.Holdings(ctx, r.record.Mint)
	if err != nil || holdings == 0 {
		observability.RecordUnwind("none")
		return
	}
	logger = logger.With(zap.Uint64("residual", holdings))
	logger.Info("unwinding remainder")

	route, err := p.opts.Router.Unwind(ctx, r.record.Mint, holdings)
	if err == nil {
		var plan *domain.SwapPlan
		plan, err = p.opts.Builder.Build(ctx, r.record.RunID, route)
		if err == nil {
			_, err = p.opts.Submitter.Submit(ctx, plan)
		}
	}
	if err != nil {
		observability.RecordUnwind("error")
		logger.Warn("unwind failed", zap.String("error_kind", string(domain.Kind(err))), zap.Error(err))
		return
	}
	observability.RecordUnwind("ok")
	logger.Info("remainder unwound")
}

func (p *Pipeline) finish(logger *zap.Logger, r *run) {
	r.record.FinishedAt = p.now()
	r.record.FinalState = string(r.state)
	duration := r.record.FinishedAt.Sub(r.record.StartedAt)
	observability.RecordPipelineRun(string(r.state), string(r.record.ErrorKind), duration)

	fields := []zap.Field{
		zap.String("state", string(r.state)),
		zap.Duration("duration", duration),
		zap.Strings("path", r.pathStrings()),
	}
	switch {
	case r.state == StateConfirmed:
		logger.Info("run finished", fields...)
	case r.record.ErrorKind == domain.KindClassification || r.record.ErrorKind == domain.KindInsufficientFunds:
		logger.Info("run skipped", append(fields, zap.String("error_kind", string(r.record.ErrorKind)), zap.String("error", r.record.ErrorMessage))...)
	default:
		logger.Warn("run failed", append(fields, zap.String("error_kind", string(r.record.ErrorKind)), zap.String("error", r.record.ErrorMessage))...)
	}

	if p.opts.Executions == nil {
		return
	}
	// the run context may already be done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := r.record
	if err := p.opts.Executions.InsertExecution(ctx, &rec); err != nil {
		logger.Warn("audit execution failed", zap.Error(err))
	}
}
