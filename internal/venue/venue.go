// Package venue maps on-chain program IDs to the trading venues the bot can copy.
package venue

import (
	"context"
	"strings"

	solanago "github.com/gagliardetto/solana-go"

	"solana-copy-trader/internal/domain"
)

// Kind is the closed set of venue variants.
type Kind string

// Venue kinds.
const (
	KindDirectAMM      Kind = "direct_amm"
	KindBondingCurve   Kind = "bonding_curve"
	KindAggregatorOnly Kind = "aggregator_only"
)

// Direct reports whether routes for the kind are built from pool accounts.
func (k Kind) Direct() bool {
	return k == KindDirectAMM || k == KindBondingCurve
}

// RouteRequest asks a venue how to execute one signal.
type RouteRequest struct {
	Direction domain.Direction
	Mint      string
	AmountIn  uint64 // lamports for BUY, raw token units for SELL
	Owner     string // trading wallet
}

// SwapParams carries the per-run inputs of instruction construction.
type SwapParams struct {
	Owner       solanago.PublicKey
	SlippageBps int
}

// SwapInstructions is what a direct venue contributes to a transaction.
// Setup runs before the swap and Teardown after it, both in order.
type SwapInstructions struct {
	Setup    []solanago.Instruction
	Swap     []solanago.Instruction
	Teardown []solanago.Instruction
}

// Venue is the capability interface every venue variant exposes.
type Venue interface {
	Name() string
	Kind() Kind
	ProgramID() string

	// ResolveRoute produces the route for req. Direct venues fill Route.Pool,
	// aggregator venues fill Route.SwapTransaction.
	ResolveRoute(ctx context.Context, req RouteRequest) (*domain.Route, error)

	// BuildSwap returns the venue instructions for a direct route.
	BuildSwap(ctx context.Context, route *domain.Route, p SwapParams) (*SwapInstructions, error)
}

// Registry resolves venues by program ID.
type Registry struct {
	byProgram map[string]Venue
	byName    map[string]Venue
	order     []Venue
}

// NewRegistry creates a registry holding vs.
func NewRegistry(vs ...Venue) *Registry {
	r := &Registry{
		byProgram: make(map[string]Venue),
		byName:    make(map[string]Venue),
	}
	for _, v := range vs {
		r.Register(v)
	}
	return r
}

// Register adds or replaces a venue.
func (r *Registry) Register(v Venue) {
	if _, ok := r.byProgram[v.ProgramID()]; !ok {
		r.order = append(r.order, v)
	}
	r.byProgram[v.ProgramID()] = v
	r.byName[v.Name()] = v
}

// Lookup returns the venue registered for programID.
func (r *Registry) Lookup(programID string) (Venue, bool) {
	v, ok := r.byProgram[programID]
	return v, ok
}

// ByName returns the venue registered under name.
func (r *Registry) ByName(name string) (Venue, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// Venues returns registered venues in registration order.
func (r *Registry) Venues() []Venue {
	out := make([]Venue, len(r.order))
	copy(out, r.order)
	return out
}

// MatchLogs returns the first venue whose program is invoked in logs.
// Log lines have the form "Program <id> invoke [depth]".
func (r *Registry) MatchLogs(logs []string) (Venue, bool) {
	for _, line := range logs {
		id, ok := invokedProgram(line)
		if !ok {
			continue
		}
		if v, ok := r.byProgram[id]; ok {
			return v, true
		}
	}
	return nil, false
}

func invokedProgram(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "Program" || fields[2] != "invoke" {
		return "", false
	}
	return fields[1], true
}
