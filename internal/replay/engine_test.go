package replay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"solana-copy-trader/internal/domain"
)

type fakeClassifier struct {
	qualifies bool
	signal    *domain.TradeSignal
	err       error
}

func (f *fakeClassifier) Qualifies(domain.RawUpdateEvent) bool { return f.qualifies }

func (f *fakeClassifier) Classify(context.Context, domain.RawUpdateEvent) (*domain.TradeSignal, error) {
	return f.signal, f.err
}

func txEvent(slot int64, sig string) domain.RawUpdateEvent {
	return domain.RawUpdateEvent{
		Kind: domain.UpdateKindTransaction,
		Slot: slot,
		Tx:   &domain.TxUpdate{Signature: sig},
	}
}

func TestClassifyEngine_TalliesRejects(t *testing.T) {
	c := &fakeClassifier{qualifies: true, err: fmt.Errorf("%w: unchanged", domain.ErrClassificationReject)}
	engine := NewClassifyEngine(c, nil)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := engine.OnEvent(ctx, txEvent(i, "sig")); err != nil {
			t.Fatalf("OnEvent failed: %v", err)
		}
	}
	if err := engine.OnEvent(ctx, domain.RawUpdateEvent{Kind: domain.UpdateKindAccount, Slot: 4}); err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}

	stats := engine.Stats()
	if stats.TotalEvents != 4 || stats.Accounts != 1 || stats.Qualified != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Rejected[domain.KindClassification] != 3 {
		t.Errorf("Rejected = %v, want 3 classification rejects", stats.Rejected)
	}
	if kinds := stats.RejectKinds(); len(kinds) != 1 || kinds[0] != domain.KindClassification {
		t.Errorf("RejectKinds = %v", kinds)
	}

	// Stats returns a copy
	stats.Rejected[domain.KindDecode] = 99
	if engine.Stats().Rejected[domain.KindDecode] != 0 {
		t.Error("Stats leaked the internal map")
	}
}

func TestClassifyEngine_CountsSignalsByDirection(t *testing.T) {
	c := &fakeClassifier{qualifies: true, signal: &domain.TradeSignal{Direction: domain.DirectionSell}}
	engine := NewClassifyEngine(c, nil)

	if err := engine.OnEvent(context.Background(), txEvent(1, "sig")); err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}
	stats := engine.Stats()
	if stats.Signals != 1 || stats.Sells != 1 || stats.Buys != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClassifyEngine_SkipsUnqualified(t *testing.T) {
	engine := NewClassifyEngine(&fakeClassifier{}, nil)

	if err := engine.OnEvent(context.Background(), txEvent(1, "sig")); err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}
	if stats := engine.Stats(); stats.Qualified != 0 || stats.Signals != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClassifyEngine_RejectsOutOfOrder(t *testing.T) {
	engine := NewClassifyEngine(&fakeClassifier{}, nil)
	ctx := context.Background()

	if err := engine.OnEvent(ctx, txEvent(10, "a")); err != nil {
		t.Fatalf("OnEvent failed: %v", err)
	}
	if err := engine.OnEvent(ctx, txEvent(9, "b")); !errors.Is(err, ErrInvalidOrdering) {
		t.Errorf("Expected ErrInvalidOrdering, got %v", err)
	}
}

func TestSortEvents_TieBreaks(t *testing.T) {
	events := []domain.RawUpdateEvent{
		txEvent(5, "b"),
		{Kind: domain.UpdateKindAccount, Slot: 5, Account: &domain.AccountUpdate{Pubkey: "pool"}},
		txEvent(5, "a"),
		txEvent(1, "z"),
	}
	SortEvents(events)

	if events[0].Slot != 1 {
		t.Errorf("lowest slot must come first, got %d", events[0].Slot)
	}
	// "account" < "transaction"
	if events[1].Kind != domain.UpdateKindAccount {
		t.Errorf("Expected account event second, got %s", events[1].Kind)
	}
	if events[2].Tx.Signature != "a" || events[3].Tx.Signature != "b" {
		t.Errorf("Expected signature order a, b; got %s, %s", events[2].Tx.Signature, events[3].Tx.Signature)
	}
}
