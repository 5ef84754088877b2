package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage"
)

const finalStateConfirmed = "CONFIRMED"

// Generator produces reports from stored execution records.
type Generator struct {
	store storage.ExecutionReader
	now   func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(store storage.ExecutionReader) *Generator {
	return &Generator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate loads runs with from <= started_at < to and summarizes them.
func (g *Generator) Generate(ctx context.Context, from, to time.Time) (*Report, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("empty report window: from %s is not before to %s", from, to)
	}
	records, err := g.store.GetExecutionsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load executions: %w", err)
	}
	report := Build(records)
	report.GeneratedAt = g.now()
	report.From = from.UTC()
	report.To = to.UTC()
	return report, nil
}

// Build summarizes records. Rows are sorted so equal input renders identically.
func Build(records []*domain.ExecutionRecord) *Report {
	var (
		summary   Summary
		latencies []float64
	)
	venues := make(map[venueKey]*venueAcc)
	channels := make(map[string]*ChannelRow)
	kinds := make(map[domain.ErrorKind]int)

	for _, r := range records {
		summary.Runs++
		switch r.Direction {
		case domain.DirectionBuy:
			summary.Buys++
		case domain.DirectionSell:
			summary.Sells++
		}
		if r.FinalState == finalStateConfirmed {
			summary.Confirmed++
		} else {
			summary.Failed++
			kind := r.ErrorKind
			if kind == domain.KindNone {
				kind = domain.KindUnknown
			}
			kinds[kind]++
		}

		latency := float64(r.FinishedAt.Sub(r.StartedAt).Milliseconds())
		if r.Landed {
			summary.Landed++
			latencies = append(latencies, latency)
		}

		if r.Venue != "" {
			key := venueKey{venue: r.Venue, route: r.RouteKind}
			acc, ok := venues[key]
			if !ok {
				acc = &venueAcc{}
				venues[key] = acc
			}
			acc.runs++
			if r.Landed {
				acc.landed++
				acc.latencies = append(acc.latencies, latency)
			}
		}

		if r.Channel != "" {
			row, ok := channels[r.Channel]
			if !ok {
				row = &ChannelRow{Channel: r.Channel}
				channels[r.Channel] = row
			}
			row.Runs++
			if r.Landed {
				row.Landed++
			}
		}
	}

	summary.LandedRate = rate(summary.Landed, summary.Runs)
	sort.Float64s(latencies)
	summary.LatencyP50Ms = computePercentile(latencies, 0.5)
	summary.LatencyP90Ms = computePercentile(latencies, 0.9)

	return &Report{
		Summary:    summary,
		ByVenue:    venueRows(venues),
		ByChannel:  channelRows(channels),
		ErrorKinds: errorKindRows(kinds),
	}
}

type venueKey struct {
	venue string
	route domain.RouteKind
}

type venueAcc struct {
	runs      int
	landed    int
	latencies []float64
}

func venueRows(venues map[venueKey]*venueAcc) []VenueRow {
	rows := make([]VenueRow, 0, len(venues))
	for key, acc := range venues {
		sort.Float64s(acc.latencies)
		rows = append(rows, VenueRow{
			Venue:        key.venue,
			RouteKind:    key.route,
			Runs:         acc.runs,
			Landed:       acc.landed,
			LandedRate:   rate(acc.landed, acc.runs),
			LatencyP50Ms: computePercentile(acc.latencies, 0.5),
			LatencyP90Ms: computePercentile(acc.latencies, 0.9),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Venue != rows[j].Venue {
			return rows[i].Venue < rows[j].Venue
		}
		return rows[i].RouteKind < rows[j].RouteKind
	})
	return rows
}

func channelRows(channels map[string]*ChannelRow) []ChannelRow {
	rows := make([]ChannelRow, 0, len(channels))
	for _, row := range channels {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Channel < rows[j].Channel })
	return rows
}

// errorKindRows orders by count DESC, then kind ASC.
func errorKindRows(kinds map[domain.ErrorKind]int) []ErrorKindRow {
	rows := make([]ErrorKindRow, 0, len(kinds))
	for kind, count := range kinds {
		rows = append(rows, ErrorKindRow{Kind: kind, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Kind < rows[j].Kind
	})
	return rows
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// computePercentile calculates percentile using linear interpolation.
// sorted must be in ascending order; p is in [0, 1].
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	// Index for percentile (0-based, continuous)
	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
