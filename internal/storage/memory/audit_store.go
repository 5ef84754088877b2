package memory

import (
	"context"
	"sort"
	"sync"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/idhash"
	"solana-copy-trader/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore and storage.SignalReader.
type AuditStore struct {
	mu      sync.RWMutex
	events  map[string]*domain.RawUpdateEvent // keyed by event_id
	signals map[string]*domain.TradeSignal    // keyed by signal_id
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		events:  make(map[string]*domain.RawUpdateEvent),
		signals: make(map[string]*domain.TradeSignal),
	}
}

var (
	_ storage.AuditStore     = (*AuditStore)(nil)
	_ storage.SignalReader   = (*AuditStore)(nil)
	_ storage.RawEventReader = (*AuditStore)(nil)
)

// InsertRawEvent adds a feed event. Returns ErrDuplicateKey if its event_id exists.
func (s *AuditStore) InsertRawEvent(_ context.Context, ev *domain.RawUpdateEvent) error {
	if ev == nil || ev.Kind == "" {
		return storage.ErrInvalidInput
	}
	id := idhash.EventID(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[id]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	evCopy := *ev
	evCopy.Payload = append([]byte(nil), ev.Payload...)
	s.events[id] = &evCopy
	return nil
}

// InsertSignal adds a classified signal. Returns ErrDuplicateKey if its signal_id exists.
func (s *AuditStore) InsertSignal(_ context.Context, sig *domain.TradeSignal) error {
	if sig == nil || sig.SourceSignature == "" || sig.Mint == "" {
		return storage.ErrInvalidInput
	}
	id := idhash.SignalID(sig)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[id]; exists {
		return storage.ErrDuplicateKey
	}
	sigCopy := *sig
	s.signals[id] = &sigCopy
	return nil
}

// GetSignal retrieves a signal by signal_id. Returns ErrNotFound if not exists.
func (s *AuditStore) GetSignal(_ context.Context, signalID string) (*domain.TradeSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, exists := s.signals[signalID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	sigCopy := *sig
	return &sigCopy, nil
}

// GetSignalsByMint retrieves signals for a mint, ordered by slot ASC.
func (s *AuditStore) GetSignalsByMint(_ context.Context, mint string) ([]*domain.TradeSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeSignal
	for _, sig := range s.signals {
		if sig.Mint == mint {
			sigCopy := *sig
			result = append(result, &sigCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].SourceSignature < result[j].SourceSignature
	})
	return result, nil
}

// GetRawEvents retrieves events with fromSlot <= slot <= toSlot, ordered by slot ASC, received_at ASC.
func (s *AuditStore) GetRawEvents(_ context.Context, fromSlot, toSlot int64) ([]*domain.RawUpdateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RawUpdateEvent
	for _, ev := range s.events {
		if ev.Slot >= fromSlot && ev.Slot <= toSlot {
			evCopy := *ev
			evCopy.Payload = append([]byte(nil), ev.Payload...)
			result = append(result, &evCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Slot != result[j].Slot {
			return result[i].Slot < result[j].Slot
		}
		return result[i].ReceivedAt.Before(result[j].ReceivedAt)
	})
	return result, nil
}

// EventCount returns the number of stored feed events.
func (s *AuditStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
