// Package reporting summarizes recorded execution runs.
package reporting

import (
	"time"

	"solana-copy-trader/internal/domain"
)

// Report is an execution summary over a time window.
type Report struct {
	GeneratedAt time.Time
	From        time.Time
	To          time.Time

	Summary    Summary
	ByVenue    []VenueRow
	ByChannel  []ChannelRow
	ErrorKinds []ErrorKindRow
}

// Summary holds totals over every run in the window.
type Summary struct {
	Runs       int
	Buys       int
	Sells      int
	Confirmed  int
	Failed     int
	Landed     int
	LandedRate float64 // landed / runs, 0 when there are no runs

	// Latency is FinishedAt - StartedAt in milliseconds over landed runs.
	LatencyP50Ms float64
	LatencyP90Ms float64
}

// VenueRow aggregates runs per (venue, route kind).
type VenueRow struct {
	Venue        string
	RouteKind    domain.RouteKind
	Runs         int
	Landed       int
	LandedRate   float64
	LatencyP50Ms float64
	LatencyP90Ms float64
}

// ChannelRow aggregates submitted runs per channel.
type ChannelRow struct {
	Channel string
	Runs    int
	Landed  int
}

// ErrorKindRow counts failed runs per error kind.
type ErrorKindRow struct {
	Kind  domain.ErrorKind
	Count int
}
