// Package observability provides Prometheus metrics and logger construction.
package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	FeedEventsReceived *prometheus.CounterVec
	FeedDecodeErrors   prometheus.Counter
	HighestSlotSeen    prometheus.Gauge

	// Classification metrics
	SignalsClassified     *prometheus.CounterVec
	ClassificationRejects *prometheus.CounterVec

	// Guard metrics
	EventsDroppedBusy prometheus.Counter
	GuardBusy         prometheus.Gauge

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	StageLatency      *prometheus.HistogramVec
	UnwindsTotal      *prometheus.CounterVec

	// Submission metrics
	SubmissionsTotal *prometheus.CounterVec
	RPCCallLatency   *prometheus.HistogramVec

	// Audit metrics
	AuditWriteDuration *prometheus.HistogramVec
	AuditWriteErrors   *prometheus.CounterVec

	// Health metrics
	LastConfirmedRun prometheus.Gauge

	highestSlot atomic.Uint64
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "copytrader"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Feed metrics
		FeedEventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_received_total",
			Help:      "Total number of raw update events received by kind",
		}, []string{"kind"}),
		FeedDecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "decode_errors_total",
			Help:      "Total number of feed payloads that could not be decoded",
		}),
		HighestSlotSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen on the feed",
		}),

		// Classification metrics
		SignalsClassified: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "signals_total",
			Help:      "Total number of trade signals by direction and venue",
		}, []string{"direction", "venue"}),
		ClassificationRejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "rejects_total",
			Help:      "Total number of events rejected by the classifier by error kind",
		}, []string{"kind"}),

		// Guard metrics
		EventsDroppedBusy: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "events_dropped_busy_total",
			Help:      "Total number of qualifying events dropped while a run was active",
		}),
		GuardBusy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "busy",
			Help:      "1 while a pipeline run holds the guard",
		}),

		// Pipeline metrics
		PipelineRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by final state and error kind",
		}, []string{"state", "error_kind"}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Latency of each pipeline stage in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		UnwindsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "unwinds_total",
			Help:      "Total number of remainder unwinds by result",
		}, []string{"result"}),

		// Submission metrics
		SubmissionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "submissions_total",
			Help:      "Total number of submissions by channel and result",
		}, []string{"channel", "result"}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Audit metrics
		AuditWriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_duration_seconds",
			Help:      "Audit write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		AuditWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_errors_total",
			Help:      "Total number of audit write errors",
		}, []string{"backend", "operation"}),

		// Health metrics
		LastConfirmedRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_confirmed_run_timestamp",
			Help:      "Unix timestamp of the last confirmed copy trade",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordFeedEvent counts a received feed event and tracks the highest slot.
// The stream adapter is the only caller.
func RecordFeedEvent(kind string, slot uint64) {
	DefaultMetrics.RecordFeedEvent(kind, slot)
}

// RecordFeedEvent counts a feed event. HighestSlotSeen never moves backwards.
func (m *Metrics) RecordFeedEvent(kind string, slot uint64) {
	m.FeedEventsReceived.WithLabelValues(kind).Inc()
	for {
		cur := m.highestSlot.Load()
		if slot <= cur {
			return
		}
		if m.highestSlot.CompareAndSwap(cur, slot) {
			m.HighestSlotSeen.Set(float64(slot))
			return
		}
	}
}

// RecordDecodeError increments the feed decode error counter.
func RecordDecodeError() {
	DefaultMetrics.FeedDecodeErrors.Inc()
}

// RecordSignal counts a classified trade signal.
func RecordSignal(direction, venue string) {
	DefaultMetrics.SignalsClassified.WithLabelValues(direction, venue).Inc()
}

// RecordReject counts a classifier rejection.
func RecordReject(kind string) {
	DefaultMetrics.ClassificationRejects.WithLabelValues(kind).Inc()
}

// RecordDroppedBusy counts an event dropped because the guard was held.
func RecordDroppedBusy() {
	DefaultMetrics.EventsDroppedBusy.Inc()
}

// SetGuardBusy updates the guard state gauge.
func SetGuardBusy(busy bool) {
	if busy {
		DefaultMetrics.GuardBusy.Set(1)
		return
	}
	DefaultMetrics.GuardBusy.Set(0)
}

// RecordStage records the latency of one pipeline stage.
func RecordStage(stage string, d time.Duration) {
	DefaultMetrics.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPipelineRun records a finished pipeline run.
func RecordPipelineRun(state, errorKind string, d time.Duration) {
	DefaultMetrics.PipelineRunsTotal.WithLabelValues(state, errorKind).Inc()
	DefaultMetrics.PipelineDuration.Observe(d.Seconds())
	if errorKind == "" {
		DefaultMetrics.LastConfirmedRun.SetToCurrentTime()
	}
}

// RecordUnwind records a remainder unwind attempt.
func RecordUnwind(result string) {
	DefaultMetrics.UnwindsTotal.WithLabelValues(result).Inc()
}

// RecordSubmission records a submission on channel.
func RecordSubmission(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.SubmissionsTotal.WithLabelValues(channel, result).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, d time.Duration) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordAuditWrite records audit write metrics.
func RecordAuditWrite(backend, operation string, d time.Duration, err error) {
	DefaultMetrics.AuditWriteDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.AuditWriteErrors.WithLabelValues(backend, operation).Inc()
	}
}
