package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codeshield",
		Name:      "scans_submitted_total",
		Help:      "Scans admitted by the concurrency gate.",
	})
	scansRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeshield",
		Name:      "scans_rejected_total",
		Help:      "Scans rejected before any work started.",
	}, []string{"reason"})
	scansFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeshield",
		Name:      "scans_finished_total",
		Help:      "Scans that reached a terminal status.",
	}, []string{"status"})
	scansInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeshield",
		Name:      "scans_in_flight",
		Help:      "Scans currently holding a concurrency slot.",
	})
	analyzerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeshield",
		Name:      "analyzer_duration_seconds",
		Help:      "Wall time of individual analyzer invocations.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"tool", "outcome"})
	stageDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeshield",
		Name:      "stage_degraded_total",
		Help:      "Pipeline stages that fell back to a degraded default.",
	}, []string{"stage"})
)

// ScanAdmitted records a scan that acquired a slot.
func ScanAdmitted() {
	scansSubmitted.Inc()
	scansInFlight.Inc()
}

// ScanReleased records a slot release.
func ScanReleased() {
	scansInFlight.Dec()
}

// ScanRejected records a scan rejected with reason (validation, busy).
func ScanRejected(reason string) {
	scansRejected.WithLabelValues(reason).Inc()
}

// ScanFinished records a terminal status.
func ScanFinished(status string) {
	scansFinished.WithLabelValues(status).Inc()
}

// ObserveAnalyzer records one analyzer invocation.
func ObserveAnalyzer(tool, outcome string, d time.Duration) {
	analyzerDuration.WithLabelValues(tool, outcome).Observe(d.Seconds())
}

// StageDegraded records a degraded stage (analysis, rules, archive).
func StageDegraded(stage string) {
	stageDegraded.WithLabelValues(stage).Inc()
}
