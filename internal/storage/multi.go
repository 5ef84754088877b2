package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
)

// NamedSink labels a backend for metrics and error messages.
type NamedSink struct {
	Name string
	Sink Sink
}

// MultiSink fans every write out to all backends in order.
// A failing backend does not stop the others; errors are joined.
type MultiSink struct {
	sinks []NamedSink
}

var _ Sink = (*MultiSink)(nil)

// NewMultiSink creates a sink over the given backends.
func NewMultiSink(sinks ...NamedSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Len returns the number of backends.
func (m *MultiSink) Len() int { return len(m.sinks) }

// InsertRawEvent writes ev to every backend.
func (m *MultiSink) InsertRawEvent(ctx context.Context, ev *domain.RawUpdateEvent) error {
	return m.each("raw_event", func(s Sink) error { return s.InsertRawEvent(ctx, ev) })
}

// InsertSignal writes s to every backend.
func (m *MultiSink) InsertSignal(ctx context.Context, s *domain.TradeSignal) error {
	return m.each("signal", func(sink Sink) error { return sink.InsertSignal(ctx, s) })
}

// InsertExecution writes r to every backend.
func (m *MultiSink) InsertExecution(ctx context.Context, r *domain.ExecutionRecord) error {
	return m.each("execution", func(s Sink) error { return s.InsertExecution(ctx, r) })
}

func (m *MultiSink) each(op string, write func(Sink) error) error {
	var errs []error
	for _, ns := range m.sinks {
		start := time.Now()
		err := write(ns.Sink)
		observability.RecordAuditWrite(ns.Name, op, time.Since(start), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ns.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ExecutionStoreSink adapts a store that only records executions, such as the
// ClickHouse analytics table. Raw events and signals are ignored.
type ExecutionStoreSink struct {
	ExecutionStore
}

// InsertRawEvent is a no-op.
func (ExecutionStoreSink) InsertRawEvent(context.Context, *domain.RawUpdateEvent) error { return nil }

// InsertSignal is a no-op.
func (ExecutionStoreSink) InsertSignal(context.Context, *domain.TradeSignal) error { return nil }

// CombinedSink joins an AuditStore and an ExecutionStore into a Sink.
type CombinedSink struct {
	AuditStore
	ExecutionStore
}
