// Package replay feeds recorded feed events back through the classifier.
// Replays are dry runs: nothing is routed, built or submitted.
package replay

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"solana-copy-trader/internal/domain"
)

// Engine receives replayed events in order.
type Engine interface {
	// OnEvent is called for each event. Events arrive ordered by (slot, received_at, kind, key).
	OnEvent(ctx context.Context, ev domain.RawUpdateEvent) error
}

// Classifier is the part of classifier.Classifier a replay needs.
type Classifier interface {
	Qualifies(ev domain.RawUpdateEvent) bool
	Classify(ctx context.Context, ev domain.RawUpdateEvent) (*domain.TradeSignal, error)
}

// Stats summarizes a replay.
type Stats struct {
	TotalEvents  int
	Transactions int
	Accounts     int
	DecodeErrors int
	Qualified    int
	Signals      int
	Buys         int
	Sells        int
	// Rejected counts qualified events the classifier refused, by error kind.
	Rejected map[domain.ErrorKind]int
}

// RejectKinds returns the keys of Rejected in sorted order.
func (s Stats) RejectKinds() []domain.ErrorKind {
	kinds := make([]domain.ErrorKind, 0, len(s.Rejected))
	for k := range s.Rejected {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ClassifyEngine runs qualifying events through a classifier and tallies the outcome.
// Not safe for concurrent use.
type ClassifyEngine struct {
	classifier Classifier
	logger     *zap.Logger

	stats    Stats
	signals  []*domain.TradeSignal
	lastSlot int64
}

// NewClassifyEngine creates an engine around c.
func NewClassifyEngine(c Classifier, logger *zap.Logger) *ClassifyEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassifyEngine{
		classifier: c,
		logger:     logger.Named("replay"),
		stats:      Stats{Rejected: make(map[domain.ErrorKind]int)},
	}
}

// OnEvent classifies ev. Returns ErrInvalidOrdering if ev's slot precedes the previous event's.
func (e *ClassifyEngine) OnEvent(ctx context.Context, ev domain.RawUpdateEvent) error {
	if e.stats.TotalEvents > 0 && ev.Slot < e.lastSlot {
		return ErrInvalidOrdering
	}
	e.lastSlot = ev.Slot
	e.stats.TotalEvents++

	switch ev.Kind {
	case domain.UpdateKindTransaction:
		e.stats.Transactions++
		if ev.Tx == nil {
			e.stats.DecodeErrors++
			return nil
		}
	case domain.UpdateKindAccount:
		e.stats.Accounts++
		return nil
	}

	if !e.classifier.Qualifies(ev) {
		return nil
	}
	e.stats.Qualified++

	signal, err := e.classifier.Classify(ctx, ev)
	if err != nil {
		e.stats.Rejected[domain.Kind(err)]++
		e.logger.Debug("event rejected", zap.Int64("slot", ev.Slot), zap.Error(err))
		return nil
	}

	e.stats.Signals++
	if signal.Direction == domain.DirectionBuy {
		e.stats.Buys++
	} else {
		e.stats.Sells++
	}
	e.signals = append(e.signals, signal)
	return nil
}

// Stats returns a copy of the tallies so far.
func (e *ClassifyEngine) Stats() Stats {
	s := e.stats
	s.Rejected = make(map[domain.ErrorKind]int, len(e.stats.Rejected))
	for k, v := range e.stats.Rejected {
		s.Rejected[k] = v
	}
	return s
}

// Signals returns the signals produced so far, in replay order.
func (e *ClassifyEngine) Signals() []*domain.TradeSignal {
	return append([]*domain.TradeSignal(nil), e.signals...)
}
