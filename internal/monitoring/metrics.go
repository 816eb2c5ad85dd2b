// Package monitoring exposes Prometheus metrics for the scan pipeline.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansStarted counts scan runs created, by trigger ("api", "cli", "cron").
	ScansStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanner",
		Name:      "scans_started_total",
		Help:      "Number of analysis runs started.",
	}, []string{"trigger"})

	// ScansFinished counts terminal runs by final status.
	ScansFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanner",
		Name:      "scans_finished_total",
		Help:      "Number of analysis runs reaching a terminal state.",
	}, []string{"status"})

	// CandidatesProcessed counts candidates fully analyzed and stored.
	CandidatesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scanner",
		Name:      "candidates_processed_total",
		Help:      "Number of candidates analyzed and persisted.",
	})

	// CandidatesSkipped counts candidates dropped due to processing errors.
	CandidatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scanner",
		Name:      "candidates_skipped_total",
		Help:      "Number of candidates skipped after a processing error.",
	})

	// ProviderFallbacks counts AI calls that degraded to their fallback
	// payload, by analysis dimension.
	ProviderFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanner",
		Name:      "provider_fallbacks_total",
		Help:      "Number of AI provider calls replaced by fallback values.",
	}, []string{"dimension"})

	// ScanDuration observes end-to-end run duration in seconds.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scanner",
		Name:      "scan_duration_seconds",
		Help:      "End-to-end duration of completed analysis runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
