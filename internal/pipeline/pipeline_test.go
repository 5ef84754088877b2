package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/guard"
)

const target = "target"

type chanSource struct {
	ch  chan domain.RawUpdateEvent
	err error
}

func newSource() *chanSource { return &chanSource{ch: make(chan domain.RawUpdateEvent, 16)} }

func (s *chanSource) Events(context.Context) (<-chan domain.RawUpdateEvent, error) { return s.ch, nil }
func (s *chanSource) Err() error                                                 { return s.err }

type fakeClassifier struct {
	direction domain.Direction
	err       error
}

func (c *fakeClassifier) Qualifies(ev domain.RawUpdateEvent) bool {
	return ev.Tx != nil && ev.Tx.References(target)
}

func (c *fakeClassifier) Classify(_ context.Context, ev domain.RawUpdateEvent) (*domain.TradeSignal, error) {
	if c.err != nil {
		return nil, c.err
	}
	dir := c.direction
	if dir == "" {
		dir = domain.DirectionBuy
	}
	return &domain.TradeSignal{SourceSignature: ev.Tx.Signature, Mint: "mint", Direction: dir, Venue: "raydium", InstrumentDelta: 1}, nil
}

type fakeRouter struct {
	err     error
	routes  atomic.Int32
	unwinds atomic.Int32
}

func (r *fakeRouter) Route(_ context.Context, s *domain.TradeSignal, amount uint64) (*domain.Route, error) {
	r.routes.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &domain.Route{Kind: domain.RouteDirect, Venue: s.Venue, Direction: s.Direction, Mint: s.Mint, AmountIn: amount}, nil
}

func (r *fakeRouter) Unwind(_ context.Context, mint string, amount uint64) (*domain.Route, error) {
	r.unwinds.Add(1)
	return &domain.Route{Kind: domain.RouteAggregator, Venue: "jupiter", Direction: domain.DirectionSell, Mint: mint, AmountIn: amount}, nil
}

type fakeSizer struct {
	err         error
	holdings    uint64
	sellPercent int
}

func (s *fakeSizer) Amount(context.Context, domain.Direction, string) (uint64, error) {
	return 10_000_000, s.err
}

func (s *fakeSizer) Holdings(context.Context, string) (uint64, error) { return s.holdings, nil }

func (s *fakeSizer) SellPercent() int {
	if s.sellPercent == 0 {
		return 100
	}
	return s.sellPercent
}

type fakeBuilder struct {
	builds atomic.Int32
	panic  bool
}

func (b *fakeBuilder) Build(_ context.Context, runID string, route *domain.Route) (*domain.SwapPlan, error) {
	b.builds.Add(1)
	if b.panic {
		panic("boom")
	}
	return &domain.SwapPlan{RunID: runID, RouteKind: route.Kind, Direction: route.Direction, Mint: route.Mint}, nil
}

type fakeSubmitter struct {
	block   chan struct{}
	err     error
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (s *fakeSubmitter) Submit(ctx context.Context, plan *domain.SwapPlan) (*domain.SubmissionResult, error) {
	s.calls.Add(1)
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return &domain.SubmissionResult{}, ctx.Err()
		}
	}
	if s.err != nil {
		return &domain.SubmissionResult{Channel: domain.ChannelBundle, Err: s.err}, s.err
	}
	return &domain.SubmissionResult{Channel: domain.ChannelBundle, Signature: "sig-" + plan.RunID, Landed: true}, nil
}

type execRecorder struct {
	mu      sync.Mutex
	records []*domain.ExecutionRecord
	done    chan struct{}
}

func newExecRecorder() *execRecorder { return &execRecorder{done: make(chan struct{}, 16)} }

func (e *execRecorder) InsertExecution(_ context.Context, r *domain.ExecutionRecord) error {
	e.mu.Lock()
	e.records = append(e.records, r)
	e.mu.Unlock()
	select {
	case e.done <- struct{}{}:
	default:
	}
	return nil
}

func (e *execRecorder) all() []*domain.ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*domain.ExecutionRecord(nil), e.records...)
}

type harness struct {
	source     *chanSource
	classifier *fakeClassifier
	router     *fakeRouter
	sizer      *fakeSizer
	builder    *fakeBuilder
	submitter  *fakeSubmitter
	guard      *guard.Guard
	execs      *execRecorder
}

func newHarness() *harness {
	return &harness{
		source:     newSource(),
		classifier: &fakeClassifier{},
		router:     &fakeRouter{},
		sizer:      &fakeSizer{},
		builder:    &fakeBuilder{},
		submitter:  &fakeSubmitter{},
		guard:      guard.New(nil),
		execs:      newExecRecorder(),
	}
}

func (h *harness) pipeline(t *testing.T, unwind bool) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Source:          h.source,
		Classifier:      h.classifier,
		Router:          h.router,
		Sizer:           h.sizer,
		Builder:         h.builder,
		Submitter:       h.submitter,
		Guard:           h.guard,
		Executions:      h.execs,
		UnwindRemainder: unwind,
		RunTimeout:      5 * time.Second,
	})
	require.NoError(t, err)
	return p
}

// start runs the pipeline in the background and returns a func that closes
// the feed and returns Run's error.
func (h *harness) start(t *testing.T, p *Pipeline) func() error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(context.Background()) }()
	return func() error {
		close(h.source.ch)
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not stop")
			return nil
		}
	}
}

func (h *harness) waitRecord(t *testing.T) {
	t.Helper()
	select {
	case <-h.execs.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no execution record")
	}
}

func txEvent(sig string, keys ...string) domain.RawUpdateEvent {
	return domain.RawUpdateEvent{
		Kind: domain.UpdateKindTransaction,
		Tx:   &domain.TxUpdate{Signature: sig, AccountKeys: keys},
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	h := newHarness()
	stop := h.start(t, h.pipeline(t, false))

	h.source.ch <- txEvent("sig1", target)
	h.waitRecord(t)
	require.NoError(t, stop())

	recs := h.execs.all()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, string(StateConfirmed), rec.FinalState)
	assert.Equal(t, "sig1", rec.SourceSignature)
	assert.Equal(t, "mint", rec.Mint)
	assert.Equal(t, domain.RouteDirect, rec.RouteKind)
	assert.Equal(t, uint64(10_000_000), rec.AmountIn)
	assert.True(t, rec.Landed)
	assert.Equal(t, "sig-"+rec.RunID, rec.Signature)
	assert.Equal(t, domain.KindNone, rec.ErrorKind)
	assert.NotEmpty(t, rec.RunID)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
	assert.Equal(t, guard.StateIdle, h.guard.State())
}

// Events arriving while a run is in flight are dropped, not queued.
func TestPipeline_DropsWhileBusy(t *testing.T) {
	h := newHarness()
	h.submitter.block = make(chan struct{})
	stop := h.start(t, h.pipeline(t, false))

	h.source.ch <- txEvent("first", target)
	require.Eventually(t, func() bool { return h.submitter.calls.Load() == 1 }, 5*time.Second, time.Millisecond)

	h.source.ch <- txEvent("second", target)
	h.source.ch <- txEvent("third", target)
	require.Eventually(t, func() bool {
		_, refused := h.guard.Stats()
		return refused == 2
	}, 5*time.Second, time.Millisecond)

	close(h.submitter.block)
	h.waitRecord(t)
	require.NoError(t, stop())

	recs := h.execs.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "first", recs[0].SourceSignature)
	assert.Equal(t, string(StateConfirmed), recs[0].FinalState)
	assert.Equal(t, int32(1), h.submitter.calls.Load())
	assert.Equal(t, guard.StateIdle, h.guard.State())
}

// A route failure ends the run before anything is built or sent.
func TestPipeline_RouteUnavailable(t *testing.T) {
	h := newHarness()
	h.router.err = fmt.Errorf("%w: raydium mint: pool not found", domain.ErrRouteUnavailable)
	stop := h.start(t, h.pipeline(t, false))

	h.source.ch <- txEvent("sig", target)
	h.waitRecord(t)
	require.NoError(t, stop())

	rec := h.execs.all()[0]
	assert.Equal(t, string(StateFailed), rec.FinalState)
	assert.Equal(t, domain.KindRouteUnavailable, rec.ErrorKind)
	assert.Zero(t, h.builder.builds.Load())
	assert.Zero(t, h.submitter.calls.Load())
	assert.Equal(t, guard.StateIdle, h.guard.State())
}

func TestPipeline_FailureKinds(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		kind  domain.ErrorKind
	}{
		{"classification", func(h *harness) { h.classifier.err = domain.ErrClassificationReject }, domain.KindClassification},
		{"funds", func(h *harness) { h.sizer.err = domain.ErrInsufficientFunds }, domain.KindInsufficientFunds},
		{"submission", func(h *harness) { h.submitter.err = domain.ErrSubmissionFailure }, domain.KindSubmissionFailure},
		{"timeout", func(h *harness) { h.submitter.err = domain.ErrConfirmationTimeout }, domain.KindConfirmationTimeout},
		{"panic", func(h *harness) { h.builder.panic = true }, domain.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)
			stop := h.start(t, h.pipeline(t, false))

			h.source.ch <- txEvent("sig", target)
			h.waitRecord(t)
			require.NoError(t, stop())

			rec := h.execs.all()[0]
			assert.Equal(t, string(StateFailed), rec.FinalState)
			assert.Equal(t, tt.kind, rec.ErrorKind)
			assert.False(t, rec.Landed)
			assert.Equal(t, guard.StateIdle, h.guard.State())
		})
	}
}

// After a failed run the next qualifying event starts a fresh run.
func TestPipeline_GuardLiveness(t *testing.T) {
	h := newHarness()
	h.submitter.err = domain.ErrConfirmationTimeout
	stop := h.start(t, h.pipeline(t, false))

	for i := 0; i < 3; i++ {
		h.source.ch <- txEvent(fmt.Sprintf("sig%d", i), target)
		h.waitRecord(t)
		require.Eventually(t, func() bool { return h.guard.State() == guard.StateIdle }, 5*time.Second, time.Millisecond)
	}
	require.NoError(t, stop())

	acquired, refused := h.guard.Stats()
	assert.Equal(t, uint64(3), acquired)
	assert.Zero(t, refused)
}

func TestPipeline_NonTargetEventsNeverTouchGuard(t *testing.T) {
	h := newHarness()
	stop := h.start(t, h.pipeline(t, false))

	h.source.ch <- txEvent("other", "someoneElse")
	h.source.ch <- domain.RawUpdateEvent{Kind: domain.UpdateKindAccount, Account: &domain.AccountUpdate{Pubkey: "pool"}}
	h.source.ch <- domain.RawUpdateEvent{Kind: domain.UpdateKindTransaction}
	require.NoError(t, stop())

	acquired, refused := h.guard.Stats()
	assert.Zero(t, acquired)
	assert.Zero(t, refused)
	assert.Empty(t, h.execs.all())
}

// At most one run executes at any instant, however fast events arrive.
func TestPipeline_Exclusivity(t *testing.T) {
	h := newHarness()
	h.source = &chanSource{ch: make(chan domain.RawUpdateEvent)}
	stop := h.start(t, h.pipeline(t, false))

	for i := 0; i < 200; i++ {
		h.source.ch <- txEvent(fmt.Sprintf("sig%d", i), target)
	}
	require.NoError(t, stop())

	assert.LessOrEqual(t, h.submitter.maxSeen.Load(), int32(1))
	acquired, refused := h.guard.Stats()
	assert.Equal(t, uint64(200), acquired+refused)
	assert.Len(t, h.execs.all(), int(acquired))
}

func TestPipeline_UnwindsRemainder(t *testing.T) {
	h := newHarness()
	h.classifier.direction = domain.DirectionSell
	h.sizer.holdings = 17
	stop := h.start(t, h.pipeline(t, true))

	h.source.ch <- txEvent("sell", target)
	h.waitRecord(t)
	require.NoError(t, stop())

	assert.Equal(t, int32(1), h.router.unwinds.Load())
	assert.Equal(t, int32(2), h.builder.builds.Load())
	assert.Equal(t, int32(2), h.submitter.calls.Load())
	assert.Equal(t, string(StateConfirmed), h.execs.all()[0].FinalState)
}

func TestPipeline_NoUnwindForPartialSell(t *testing.T) {
	h := newHarness()
	h.classifier.direction = domain.DirectionSell
	h.sizer.holdings = 17
	h.sizer.sellPercent = 50
	stop := h.start(t, h.pipeline(t, true))

	h.source.ch <- txEvent("sell", target)
	h.waitRecord(t)
	require.NoError(t, stop())

	assert.Zero(t, h.router.unwinds.Load())
}

func TestPipeline_ReturnsFeedError(t *testing.T) {
	h := newHarness()
	h.source.err = fmt.Errorf("%w: connection reset", domain.ErrFeed)
	stop := h.start(t, h.pipeline(t, false))

	err := stop()
	assert.ErrorIs(t, err, domain.ErrFeed)
}

func TestPipeline_SubscribeError(t *testing.T) {
	p, err := New(Options{
		Source:     errSource{},
		Classifier: &fakeClassifier{},
		Router:     &fakeRouter{},
		Sizer:      &fakeSizer{},
		Builder:    &fakeBuilder{},
		Submitter:  &fakeSubmitter{},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, p.Run(context.Background()), domain.ErrFeed)
}

type errSource struct{}

func (errSource) Events(context.Context) (<-chan domain.RawUpdateEvent, error) {
	return nil, domain.ErrFeed
}
func (errSource) Err() error { return nil }

func TestNew_MissingComponents(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier")
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateDetected, StateClassified))
	assert.True(t, CanTransition(StateSubmitted, StateConfirmed))
	assert.False(t, CanTransition(StateDetected, StateBuilt))
	assert.True(t, CanTransition(StateRouted, StateFailed))
	assert.False(t, CanTransition(StateConfirmed, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateFailed))
}
