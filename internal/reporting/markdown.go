package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Execution Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Window: %s to %s\n\n", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339)))

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Runs | %d |\n", s.Runs))
	sb.WriteString(fmt.Sprintf("| Buys | %d |\n", s.Buys))
	sb.WriteString(fmt.Sprintf("| Sells | %d |\n", s.Sells))
	sb.WriteString(fmt.Sprintf("| Confirmed | %d |\n", s.Confirmed))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", s.Failed))
	sb.WriteString(fmt.Sprintf("| Landed | %d |\n", s.Landed))
	sb.WriteString(fmt.Sprintf("| Landed Rate | %.4f |\n", s.LandedRate))
	sb.WriteString(fmt.Sprintf("| Latency P50 (ms) | %.1f |\n", s.LatencyP50Ms))
	sb.WriteString(fmt.Sprintf("| Latency P90 (ms) | %.1f |\n", s.LatencyP90Ms))
	sb.WriteString("\n")

	if s.Runs == 0 {
		sb.WriteString("No runs recorded in this window.\n")
		return sb.String()
	}

	// Venues
	sb.WriteString("## By Venue\n\n")
	if len(r.ByVenue) > 0 {
		sb.WriteString("| Venue | Route | Runs | Landed | LandedRate | P50 (ms) | P90 (ms) |\n")
		sb.WriteString("|-------|-------|------|--------|------------|----------|----------|\n")
		for _, v := range r.ByVenue {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %.4f | %.1f | %.1f |\n",
				v.Venue, v.RouteKind, v.Runs, v.Landed, v.LandedRate, v.LatencyP50Ms, v.LatencyP90Ms))
		}
	} else {
		sb.WriteString("No run reached routing.\n")
	}
	sb.WriteString("\n")

	// Channels
	sb.WriteString("## By Channel\n\n")
	if len(r.ByChannel) > 0 {
		sb.WriteString("| Channel | Runs | Landed |\n")
		sb.WriteString("|---------|------|--------|\n")
		for _, c := range r.ByChannel {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d |\n", c.Channel, c.Runs, c.Landed))
		}
	} else {
		sb.WriteString("No run reached submission.\n")
	}
	sb.WriteString("\n")

	// Failures
	sb.WriteString("## Failures\n\n")
	if len(r.ErrorKinds) > 0 {
		sb.WriteString("| Error Kind | Count |\n")
		sb.WriteString("|------------|-------|\n")
		for _, e := range r.ErrorKinds {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", e.Kind, e.Count))
		}
	} else {
		sb.WriteString("No failed runs.\n")
	}

	return sb.String()
}
