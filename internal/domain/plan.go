package domain

import (
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// RouteKind is the execution path chosen by the router.
type RouteKind string

// Route kinds.
const (
	RouteDirect     RouteKind = "DIRECT"
	RouteAggregator RouteKind = "AGGREGATOR"
)

// PoolDescriptor is venue-specific routing data for direct instruction construction.
// Rebuilt per trade.
type PoolDescriptor struct {
	Venue    string
	PoolID   string
	MarketID string
	// Accounts holds derived keys by role name. Role names are defined by the venue.
	Accounts map[string]string
}

// Account returns the key registered for role, or "".
func (p *PoolDescriptor) Account(role string) string {
	if p == nil || p.Accounts == nil {
		return ""
	}
	return p.Accounts[role]
}

// Route is the resolved execution strategy for one signal.
type Route struct {
	Kind      RouteKind
	Venue     string
	Direction Direction
	Mint      string
	AmountIn  uint64 // lamports for BUY, raw token units for SELL

	Pool *PoolDescriptor // RouteDirect

	// RouteAggregator: ready-to-sign transaction bytes and quote summary.
	SwapTransaction      []byte
	LastValidBlockHeight uint64
	QuotedOutAmount      uint64
}

// SwapPlan is the transaction assembled for one run. Immutable after signing.
type SwapPlan struct {
	RunID     string
	RouteKind RouteKind
	Direction Direction
	Mint      string
	AmountIn  uint64

	Instructions []solanago.Instruction // empty for aggregator payloads
	FeePayer     solanago.PublicKey
	Blockhash    solanago.Hash
	// LastValidBlockHeight bounds confirmation polling.
	LastValidBlockHeight uint64
	CloseAccount         bool

	Transaction *solanago.Transaction
}

// Signature returns the first signature of the signed transaction.
func (p *SwapPlan) Signature() string {
	if p == nil || p.Transaction == nil || len(p.Transaction.Signatures) == 0 {
		return ""
	}
	return p.Transaction.Signatures[0].String()
}

// SignedBundle is a set of signed transactions submitted atomically with a tip.
type SignedBundle struct {
	Transactions []*solanago.Transaction
	TipLamports  uint64
	Blockhash    solanago.Hash
}

// Submission channels.
const (
	ChannelBundle    = "bundle"
	ChannelBroadcast = "broadcast"
)

// SubmissionResult is the outcome of one submission.
type SubmissionResult struct {
	Channel   string
	Signature string
	BundleID  string
	Landed    bool
	Err       error
}

// ExecutionRecord is the audit row for one finished pipeline run.
type ExecutionRecord struct {
	RunID           string
	SourceSignature string
	Mint            string
	Direction       Direction
	Venue           string
	RouteKind       RouteKind
	AmountIn        uint64
	Channel         string
	Signature       string
	BundleID        string
	Landed          bool
	FinalState      string
	ErrorKind       ErrorKind
	ErrorMessage    string
	StartedAt       time.Time
	FinishedAt      time.Time
}
