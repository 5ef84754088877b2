package domain

import (
	"fmt"
	"time"
)

// Direction is the side of a mirrored trade.
type Direction string

// Trade directions.
const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// TradeSignal is a classified trade of the watched wallet.
// Created once per RawUpdateEvent and consumed once by the router.
type TradeSignal struct {
	SourceSignature string // transaction that produced the signal
	Slot            int64

	Mint         string // instrument mint
	Direction    Direction
	Venue        string // venue name from the registry
	VenueProgram string // program ID that matched

	// Deltas are pre - post in raw units, so a negative delta means the wallet gained.
	BaseDelta       int64
	InstrumentDelta int64
	Decimals        uint8

	DetectedAt time.Time
}

// Validate checks the signal invariants.
func (s *TradeSignal) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil signal", ErrClassificationReject)
	}
	if s.Mint == "" {
		return fmt.Errorf("%w: empty instrument mint", ErrClassificationReject)
	}
	if s.InstrumentDelta == 0 {
		return fmt.Errorf("%w: zero instrument delta", ErrClassificationReject)
	}
	return nil
}

// DirectionFromDelta maps an instrument delta (pre - post) to a direction.
// Returns false when the delta is zero.
func DirectionFromDelta(delta int64) (Direction, bool) {
	switch {
	case delta < 0:
		return DirectionBuy, true
	case delta > 0:
		return DirectionSell, true
	default:
		return "", false
	}
}
