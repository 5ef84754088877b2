package solana

import "context"

// RPCClient defines the Solana RPC HTTP interface used by the copy-trade pipeline.
type RPCClient interface {
	// GetLatestBlockhash returns a recent blockhash and its last valid block height.
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)

	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetTokenAccountBalance returns the balance of an SPL token account.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)

	// GetAccountInfo returns account info, or nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetMultipleAccounts returns account infos in request order; missing accounts are nil.
	GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*AccountInfo, error)

	// GetProgramAccounts returns accounts owned by program matching all filters.
	GetProgramAccounts(ctx context.Context, program string, filters []AccountFilter) ([]ProgramAccount, error)

	// SimulateTransaction simulates a base64-encoded signed transaction.
	SimulateTransaction(ctx context.Context, txBase64 string) (*SimulationResult, error)

	// SendTransaction broadcasts a base64-encoded signed transaction and returns its signature.
	SendTransaction(ctx context.Context, txBase64 string, opts SendOptions) (string, error)

	// GetSignatureStatuses returns statuses in request order; unknown signatures are nil.
	GetSignatureStatuses(ctx context.Context, signatures ...string) ([]*SignatureStatus, error)

	// GetBlockHeight returns the current block height.
	GetBlockHeight(ctx context.Context) (uint64, error)
}
