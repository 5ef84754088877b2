// Package guard provides the single-flight execution gate around pipeline runs.
package guard

import "sync/atomic"

// State is the guard state.
type State string

const (
	StateIdle State = "IDLE"
	StateBusy State = "BUSY"
)

// Guard admits at most one holder at a time. It is not re-entrant:
// a holder that calls TryAcquire again is refused like anyone else.
// The zero value is an idle guard.
type Guard struct {
	busy     atomic.Bool
	acquired atomic.Uint64
	refused  atomic.Uint64
	onChange func(busy bool)
}

// New returns an idle guard. onChange, if set, is called on every transition.
func New(onChange func(busy bool)) *Guard {
	return &Guard{onChange: onChange}
}

// TryAcquire attempts to take the guard without blocking.
// On success it returns a release func that is safe to call more than once.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		g.refused.Add(1)
		return nil, false
	}
	g.acquired.Add(1)
	g.notify(true)

	var released atomic.Bool
	return func() {
		if released.Swap(true) {
			return
		}
		g.busy.Store(false)
		g.notify(false)
	}, true
}

// State returns the current state.
func (g *Guard) State() State {
	if g.busy.Load() {
		return StateBusy
	}
	return StateIdle
}

// Stats returns how many acquisitions succeeded and were refused.
func (g *Guard) Stats() (acquired, refused uint64) {
	return g.acquired.Load(), g.refused.Load()
}

func (g *Guard) notify(busy bool) {
	if g.onChange != nil {
		g.onChange(busy)
	}
}
