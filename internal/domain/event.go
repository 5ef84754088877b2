package domain

import "time"

// UpdateKind identifies the feed stream a RawUpdateEvent came from.
type UpdateKind string

// Update kinds.
const (
	UpdateKindTransaction UpdateKind = "transaction"
	UpdateKindAccount     UpdateKind = "account"
)

// RawUpdateEvent is one feed notification as delivered by the stream adapter.
// It is owned by the adapter until handed to the classifier.
type RawUpdateEvent struct {
	Kind       UpdateKind
	Slot       int64
	ReceivedAt time.Time
	Payload    []byte // notification value as received, kept for audit

	Tx      *TxUpdate      // set for UpdateKindTransaction
	Account *AccountUpdate // set for UpdateKindAccount
}

// TxUpdate is the decoded view of a transaction notification.
type TxUpdate struct {
	Signature   string
	AccountKeys []string // static keys followed by loaded writable and readonly keys
	LogMessages []string
	Failed      bool

	PreBalances       []uint64 // lamports, indexed like AccountKeys
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is one SPL token balance entry from transaction metadata.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       uint64 // raw units
	Decimals     uint8
}

// AccountUpdate is the decoded view of a program account notification.
type AccountUpdate struct {
	Pubkey   string
	Owner    string
	Lamports uint64
	Data     []byte
}

// References reports whether key appears among the transaction's account keys.
func (t *TxUpdate) References(key string) bool {
	if t == nil {
		return false
	}
	for _, k := range t.AccountKeys {
		if k == key {
			return true
		}
	}
	return false
}
