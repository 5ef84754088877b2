package replay

import (
	"sort"

	"solana-copy-trader/internal/domain"
)

// SortEvents orders events by (slot ASC, received_at ASC, kind ASC, key ASC).
// The key is the transaction signature or account pubkey, so equal-time events
// still sort the same way on every run.
func SortEvents(events []domain.RawUpdateEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(&events[i], &events[j]) < 0
	})
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareEvents(a, b *domain.RawUpdateEvent) int {
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		if a.ReceivedAt.Before(b.ReceivedAt) {
			return -1
		}
		return 1
	}
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	ka, kb := eventKey(a), eventKey(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	}
	return 0
}

func eventKey(ev *domain.RawUpdateEvent) string {
	switch {
	case ev.Tx != nil:
		return ev.Tx.Signature
	case ev.Account != nil:
		return ev.Account.Pubkey
	}
	return ""
}
