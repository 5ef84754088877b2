package solana

import (
	"fmt"
	"strconv"
)

// Commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// LatestBlockhash is a blockhash snapshot with its validity bound.
type LatestBlockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// TokenAmount is an SPL token balance.
type TokenAmount struct {
	Amount         uint64 // raw units
	Decimals       uint8
	UIAmountString string
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte // decoded from base64
	Executable bool
	RentEpoch  uint64
}

// ProgramAccount is one result of getProgramAccounts.
type ProgramAccount struct {
	Pubkey  string
	Account AccountInfo
}

// AccountFilter is a getProgramAccounts / programSubscribe filter.
// Exactly one of DataSize or Memcmp should be set.
type AccountFilter struct {
	DataSize uint64
	Memcmp   *MemcmpFilter
}

// MemcmpFilter matches Bytes (base58-encoded) at Offset.
type MemcmpFilter struct {
	Offset uint64
	Bytes  string
}

// MemcmpBase58 builds a memcmp filter for a base58 value at offset.
func MemcmpBase58(offset uint64, value string) AccountFilter {
	return AccountFilter{Memcmp: &MemcmpFilter{Offset: offset, Bytes: value}}
}

// DataSizeFilter builds a dataSize filter.
func DataSizeFilter(size uint64) AccountFilter {
	return AccountFilter{DataSize: size}
}

func (f AccountFilter) toParam() map[string]interface{} {
	if f.Memcmp != nil {
		return map[string]interface{}{
			"memcmp": map[string]interface{}{
				"offset": f.Memcmp.Offset,
				"bytes":  f.Memcmp.Bytes,
			},
		}
	}
	return map[string]interface{}{"dataSize": f.DataSize}
}

// SimulationResult is the outcome of simulateTransaction.
type SimulationResult struct {
	Err           interface{}
	Logs          []string
	UnitsConsumed uint64
}

// SendOptions configures sendTransaction.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *uint
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *uint64
	Err                interface{}
	ConfirmationStatus string
}

// Landed reports whether the status meets at least confirmed commitment.
func (s *SignatureStatus) Landed() bool {
	if s == nil {
		return false
	}
	return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
}

// parseAmount parses a raw token amount string as returned by RPC.
func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", s, err)
	}
	return v, nil
}
