package stub

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"solana-copy-trader/internal/solana"
)

// ErrNotFound is returned when a token account is not found.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
// Program account queries apply dataSize and memcmp filters like a real node.
type RPCClient struct {
	mu sync.Mutex

	Blockhash       solana.LatestBlockhash
	BlockHeight     uint64
	Balances        map[string]uint64
	TokenBalances   map[string]*solana.TokenAmount
	Accounts        map[string]*solana.AccountInfo
	ProgramAccounts map[string][]solana.ProgramAccount
	Statuses        map[string]*solana.SignatureStatus

	// Errors injected per method.
	BlockhashErr       error
	ProgramAccountsErr error
	SimulateErr        error
	SendErr            error

	// SimulateResult is returned by SimulateTransaction when set.
	SimulateResult *solana.SimulationResult

	// AdvanceHeight is added to BlockHeight on every GetBlockHeight call.
	AdvanceHeight uint64

	Sent      []string
	Simulated []string
	calls     map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Blockhash: solana.LatestBlockhash{
			Blockhash:            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
			LastValidBlockHeight: 150,
		},
		BlockHeight:     100,
		Balances:        make(map[string]uint64),
		TokenBalances:   make(map[string]*solana.TokenAmount),
		Accounts:        make(map[string]*solana.AccountInfo),
		ProgramAccounts: make(map[string][]solana.ProgramAccount),
		Statuses:        make(map[string]*solana.SignatureStatus),
		calls:           make(map[string]int),
	}
}

func (c *RPCClient) record(method string) {
	c.calls[method]++
}

// Calls returns how many times method was called.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (c *RPCClient) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.LatestBlockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getLatestBlockhash")
	if c.BlockhashErr != nil {
		return nil, c.BlockhashErr
	}
	bh := c.Blockhash
	return &bh, nil
}

// GetBalance returns the configured lamport balance, zero when unset.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getBalance")
	return c.Balances[pubkey], nil
}

// GetTokenAccountBalance returns the configured token balance.
func (c *RPCClient) GetTokenAccountBalance(_ context.Context, account string) (*solana.TokenAmount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTokenAccountBalance")
	amt, ok := c.TokenBalances[account]
	if !ok {
		return nil, fmt.Errorf("token account %s: %w", account, ErrNotFound)
	}
	cp := *amt
	return &cp, nil
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getAccountInfo")
	return c.Accounts[pubkey], nil
}

// GetMultipleAccounts returns stored accounts in request order.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getMultipleAccounts")
	out := make([]*solana.AccountInfo, len(pubkeys))
	for i, k := range pubkeys {
		out[i] = c.Accounts[k]
	}
	return out, nil
}

// GetProgramAccounts returns stored program accounts matching every filter.
func (c *RPCClient) GetProgramAccounts(_ context.Context, program string, filters []solana.AccountFilter) ([]solana.ProgramAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getProgramAccounts")
	if c.ProgramAccountsErr != nil {
		return nil, c.ProgramAccountsErr
	}

	var out []solana.ProgramAccount
	for _, acc := range c.ProgramAccounts[program] {
		if matches(acc.Account.Data, filters) {
			out = append(out, acc)
		}
	}
	return out, nil
}

func matches(data []byte, filters []solana.AccountFilter) bool {
	for _, f := range filters {
		if f.Memcmp == nil {
			if uint64(len(data)) != f.DataSize {
				return false
			}
			continue
		}
		want, err := base58.Decode(f.Memcmp.Bytes)
		if err != nil {
			return false
		}
		end := f.Memcmp.Offset + uint64(len(want))
		if end > uint64(len(data)) || !bytes.Equal(data[f.Memcmp.Offset:end], want) {
			return false
		}
	}
	return true
}

// SimulateTransaction records the transaction and returns the configured result.
func (c *RPCClient) SimulateTransaction(_ context.Context, txBase64 string) (*solana.SimulationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("simulateTransaction")
	c.Simulated = append(c.Simulated, txBase64)
	if c.SimulateErr != nil {
		return nil, c.SimulateErr
	}
	if c.SimulateResult != nil {
		return c.SimulateResult, nil
	}
	return &solana.SimulationResult{}, nil
}

// SendTransaction records the transaction and returns its first signature.
func (c *RPCClient) SendTransaction(_ context.Context, txBase64 string, _ solana.SendOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("sendTransaction")
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Sent = append(c.Sent, txBase64)
	return FirstSignature(txBase64)
}

// GetSignatureStatuses returns stored statuses in request order.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures ...string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getSignatureStatuses")
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, s := range signatures {
		out[i] = c.Statuses[s]
	}
	return out, nil
}

// GetBlockHeight returns the current height, then advances it by AdvanceHeight.
func (c *RPCClient) GetBlockHeight(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getBlockHeight")
	h := c.BlockHeight
	c.BlockHeight += c.AdvanceHeight
	return h, nil
}

// SetStatus stores a signature status.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// AddProgramAccount adds an account to the program's account set.
func (c *RPCClient) AddProgramAccount(program string, acc solana.ProgramAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ProgramAccounts[program] = append(c.ProgramAccounts[program], acc)
}

// FirstSignature extracts the base58 first signature from a base64 wire transaction.
func FirstSignature(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	// compact-u16 signature count below 128 is one byte
	if len(raw) < 65 || raw[0] == 0 || raw[0] >= 0x80 {
		return "", fmt.Errorf("transaction has no signature")
	}
	return base58.Encode(raw[1:65]), nil
}
