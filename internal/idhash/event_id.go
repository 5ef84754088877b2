// Package idhash computes deterministic audit record IDs.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-copy-trader/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(kind|key|slot|SHA256(payload)) where key is the transaction
// signature or account pubkey, empty for undecodable events.
// Returns hex-encoded hash (64 characters).
func ComputeEventID(kind domain.UpdateKind, key string, slot int64, payload []byte) string {
	payloadHash := sha256.Sum256(payload)
	data := fmt.Sprintf("%s|%s|%d|%s",
		string(kind),
		key,
		slot,
		hex.EncodeToString(payloadHash[:]),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// EventID computes the event_id of ev.
func EventID(ev *domain.RawUpdateEvent) string {
	key := ""
	switch {
	case ev.Tx != nil:
		key = ev.Tx.Signature
	case ev.Account != nil:
		key = ev.Account.Pubkey
	}
	return ComputeEventID(ev.Kind, key, ev.Slot, ev.Payload)
}
