package pipeline

import "solana-copy-trader/internal/domain"

// State is a pipeline run state. IDLE belongs to the guard.
type State string

// Run states, in order.
const (
	StateDetected   State = "DETECTED"
	StateClassified State = "CLASSIFIED"
	StateRouted     State = "ROUTED"
	StateBuilt      State = "BUILT"
	StateSubmitted  State = "SUBMITTED"
	StateConfirmed  State = "CONFIRMED"
	StateFailed     State = "FAILED"
)

var next = map[State]State{
	StateDetected:   StateClassified,
	StateClassified: StateRouted,
	StateRouted:     StateBuilt,
	StateBuilt:      StateSubmitted,
	StateSubmitted:  StateConfirmed,
}

// CanTransition reports whether from may move to to. Any non-terminal state may fail.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateConfirmed && from != StateFailed
	}
	return next[from] == to
}

type run struct {
	record domain.ExecutionRecord
	state  State
	path   []State
}

func (r *run) transition(to State) {
	if r.state == to || !CanTransition(r.state, to) {
		return
	}
	r.path = append(r.path, r.state)
	r.state = to
}

func (r *run) fail(err error) {
	if r.state == StateFailed || r.state == StateConfirmed {
		return
	}
	r.transition(StateFailed)
	r.record.Landed = false
	r.record.ErrorKind = domain.Kind(err)
	r.record.ErrorMessage = err.Error()
}

func (r *run) pathStrings() []string {
	out := make([]string, 0, len(r.path)+1)
	for _, s := range r.path {
		out = append(out, string(s))
	}
	return append(out, string(r.state))
}
