package solana

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned when subscribing on a closed or terminated client.
var ErrStreamClosed = errors.New("websocket stream closed")

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeTransactions subscribes to transactions matching the filter.
	SubscribeTransactions(ctx context.Context, filter TransactionFilter) (<-chan TransactionNotification, error)

	// SubscribeProgram subscribes to account changes of accounts owned by program.
	SubscribeProgram(ctx context.Context, program string, filters []AccountFilter) (<-chan ProgramNotification, error)

	// Err returns the transport error that terminated the connection, or nil.
	Err() error

	// Close closes the WebSocket connection.
	Close() error
}

// TransactionFilter defines the transactionSubscribe filter.
type TransactionFilter struct {
	// AccountRequired lists accounts every matching transaction must reference.
	AccountRequired []string
	// AccountInclude matches transactions referencing any of these accounts.
	AccountInclude []string
	// AccountExclude drops transactions referencing any of these accounts.
	AccountExclude []string
	// IncludeFailed also delivers failed transactions.
	IncludeFailed bool
	// IncludeVotes also delivers vote transactions.
	IncludeVotes bool
	// Commitment overrides the client commitment.
	Commitment string
}

// TransactionNotification is one transaction delivered by a transaction subscription.
type TransactionNotification struct {
	Signature string
	Slot      uint64
	// AccountKeys are static keys followed by loaded writable then readonly keys.
	AccountKeys       []string
	LogMessages       []string
	Err               interface{}
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	// Raw is the notification result payload as received.
	Raw []byte
	// DecodeErr is set when Raw could not be decoded; other fields are then empty.
	DecodeErr error
}

// TokenBalance is a pre/post token balance entry from transaction meta.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       uint64
	Decimals     uint8
}

// ProgramNotification is one account change delivered by a program subscription.
type ProgramNotification struct {
	Slot    uint64
	Pubkey  string
	Account AccountInfo
	Raw     []byte
	// DecodeErr is set when Raw could not be decoded.
	DecodeErr error
}
