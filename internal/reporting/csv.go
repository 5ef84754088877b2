package reporting

import (
	"fmt"
	"strings"
	"time"

	"solana-copy-trader/internal/domain"
)

// RenderCSV renders one line per run, in the order given.
func RenderCSV(records []*domain.ExecutionRecord) string {
	var sb strings.Builder

	// Header
	sb.WriteString("run_id,source_signature,mint,direction,venue,route_kind,amount_in,channel,")
	sb.WriteString("signature,landed,final_state,error_kind,started_at,latency_ms\n")

	// Rows
	for _, r := range records {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%d,%s,%s,%t,%s,%s,%s,%d\n",
			r.RunID,
			r.SourceSignature,
			r.Mint,
			r.Direction,
			r.Venue,
			r.RouteKind,
			r.AmountIn,
			r.Channel,
			r.Signature,
			r.Landed,
			r.FinalState,
			r.ErrorKind,
			r.StartedAt.UTC().Format(time.RFC3339Nano),
			r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		))
	}

	return sb.String()
}
