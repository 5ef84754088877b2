package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/storage/memory"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func run(id string, offset time.Duration, latency time.Duration) *domain.ExecutionRecord {
	started := base.Add(offset)
	return &domain.ExecutionRecord{
		RunID:           id,
		SourceSignature: "src-" + id,
		Mint:            "mint1",
		Direction:       domain.DirectionBuy,
		Venue:           "raydium-amm",
		RouteKind:       domain.RouteDirect,
		AmountIn:        500_000_000,
		Channel:         domain.ChannelBundle,
		Signature:       "tx-" + id,
		Landed:          true,
		FinalState:      "CONFIRMED",
		StartedAt:       started,
		FinishedAt:      started.Add(latency),
	}
}

func setupTestData(t *testing.T) *memory.ExecutionStore {
	ctx := context.Background()
	store := memory.NewExecutionStore()

	sell := run("r2", 2*time.Minute, 300*time.Millisecond)
	sell.Direction = domain.DirectionSell
	sell.Venue = "jupiter"
	sell.RouteKind = domain.RouteAggregator
	sell.Channel = domain.ChannelBroadcast

	unrouted := &domain.ExecutionRecord{
		RunID:      "r3",
		Mint:       "mint2",
		Direction:  domain.DirectionBuy,
		FinalState: "FAILED",
		ErrorKind:  domain.KindRouteUnavailable,
		StartedAt:  base.Add(3 * time.Minute),
		FinishedAt: base.Add(3 * time.Minute),
	}

	timedOut := run("r4", 4*time.Minute, 30*time.Second)
	timedOut.Landed = false
	timedOut.FinalState = "FAILED"
	timedOut.ErrorKind = domain.KindConfirmationTimeout

	outside := run("r5", 2*time.Hour, time.Second)

	records := []*domain.ExecutionRecord{
		run("r1", time.Minute, 100*time.Millisecond),
		sell,
		unrouted,
		timedOut,
		outside,
	}
	for _, r := range records {
		if err := store.InsertExecution(ctx, r); err != nil {
			t.Fatalf("InsertExecution failed: %v", err)
		}
	}
	return store
}

func TestGenerator_Generate(t *testing.T) {
	store := setupTestData(t)
	fixed := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	gen := NewGenerator(store).WithClock(func() time.Time { return fixed })

	report, err := gen.Generate(context.Background(), base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !report.GeneratedAt.Equal(fixed) {
		t.Errorf("GeneratedAt = %v, want %v", report.GeneratedAt, fixed)
	}

	s := report.Summary
	if s.Runs != 4 {
		t.Fatalf("Runs = %d, want 4", s.Runs)
	}
	if s.Buys != 3 || s.Sells != 1 {
		t.Errorf("Buys/Sells = %d/%d, want 3/1", s.Buys, s.Sells)
	}
	if s.Confirmed != 2 || s.Failed != 2 {
		t.Errorf("Confirmed/Failed = %d/%d, want 2/2", s.Confirmed, s.Failed)
	}
	if s.Landed != 2 || s.LandedRate != 0.5 {
		t.Errorf("Landed = %d rate %.2f, want 2 rate 0.50", s.Landed, s.LandedRate)
	}
	// landed latencies: 100, 300
	if s.LatencyP50Ms != 200 {
		t.Errorf("LatencyP50Ms = %.1f, want 200", s.LatencyP50Ms)
	}
	if s.LatencyP90Ms != 280 {
		t.Errorf("LatencyP90Ms = %.1f, want 280", s.LatencyP90Ms)
	}

	if len(report.ByVenue) != 2 {
		t.Fatalf("ByVenue rows = %d, want 2", len(report.ByVenue))
	}
	if report.ByVenue[0].Venue != "jupiter" || report.ByVenue[1].Venue != "raydium-amm" {
		t.Errorf("venues not sorted: %+v", report.ByVenue)
	}
	ray := report.ByVenue[1]
	if ray.Runs != 2 || ray.Landed != 1 || ray.LandedRate != 0.5 {
		t.Errorf("unexpected raydium row: %+v", ray)
	}

	if len(report.ByChannel) != 2 || report.ByChannel[0].Channel != domain.ChannelBroadcast {
		t.Errorf("unexpected channels: %+v", report.ByChannel)
	}

	if len(report.ErrorKinds) != 2 {
		t.Fatalf("ErrorKinds = %d, want 2", len(report.ErrorKinds))
	}
	if report.ErrorKinds[0].Kind != domain.KindConfirmationTimeout {
		t.Errorf("equal counts must sort by kind, got %s first", report.ErrorKinds[0].Kind)
	}
}

func TestGenerator_EmptyWindow(t *testing.T) {
	gen := NewGenerator(memory.NewExecutionStore())

	if _, err := gen.Generate(context.Background(), base, base); err == nil {
		t.Error("Expected error for empty window")
	}

	report, err := gen.Generate(context.Background(), base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if report.Summary.Runs != 0 || report.Summary.LandedRate != 0 {
		t.Errorf("unexpected summary: %+v", report.Summary)
	}
	if md := RenderMarkdown(report); !strings.Contains(md, "No runs recorded") {
		t.Errorf("Expected empty-window note, got:\n%s", md)
	}
}

func TestBuild_FailedWithoutKindIsUnknown(t *testing.T) {
	r := run("r1", 0, 0)
	r.Landed = false
	r.FinalState = "FAILED"

	report := Build([]*domain.ExecutionRecord{r})
	if len(report.ErrorKinds) != 1 || report.ErrorKinds[0].Kind != domain.KindUnknown {
		t.Errorf("unexpected error kinds: %+v", report.ErrorKinds)
	}
}

func TestComputePercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{7}, 0.9, 7},
		{"median of two", []float64{100, 300}, 0.5, 200},
		{"p90 of five", []float64{1, 2, 3, 4, 5}, 0.9, 4.6},
		{"max", []float64{1, 2, 3}, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computePercentile(tt.sorted, tt.p)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("computePercentile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	store := setupTestData(t)
	gen := NewGenerator(store).WithClock(func() time.Time { return base })

	report, err := gen.Generate(context.Background(), base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	md := RenderMarkdown(report)

	for _, want := range []string{
		"# Execution Report",
		"| Runs | 4 |",
		"| Landed Rate | 0.5000 |",
		"| raydium-amm | DIRECT | 2 | 1 | 0.5000 |",
		"| confirmation_timeout | 1 |",
		"| route_unavailable | 1 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	// Deterministic output
	if again := RenderMarkdown(report); again != md {
		t.Error("RenderMarkdown is not deterministic")
	}
}

func TestRenderCSV(t *testing.T) {
	r := run("r1", 0, 250*time.Millisecond)
	csv := RenderCSV([]*domain.ExecutionRecord{r})

	lines := strings.Split(strings.TrimSpace(csv), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header + 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "run_id,source_signature,") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	want := "r1,src-r1,mint1,BUY,raydium-amm,DIRECT,500000000,bundle,tx-r1,true,CONFIRMED,,2026-01-01T00:00:00Z,250"
	if lines[1] != want {
		t.Errorf("row = %s\nwant  %s", lines[1], want)
	}
}
