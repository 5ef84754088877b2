package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-copy-trader/internal/domain"
)

// ComputeSignalID computes a deterministic signal_id using SHA256.
// Formula: SHA256(source_signature|mint|direction)
// Returns hex-encoded hash (64 characters).
func ComputeSignalID(sourceSignature, mint string, direction domain.Direction) string {
	data := fmt.Sprintf("%s|%s|%s",
		sourceSignature,
		mint,
		string(direction),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// SignalID computes the signal_id of s.
func SignalID(s *domain.TradeSignal) string {
	return ComputeSignalID(s.SourceSignature, s.Mint, s.Direction)
}
