package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retrieval outcomes shared by logs and metrics
const (
	OutcomeHit       = "hit"
	OutcomeRejected  = "rejected"
	OutcomeEmpty     = "empty"
	OutcomeTimeout   = "timeout"
	OutcomeDisabled  = "disabled"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

var (
	retrievalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bebop_retrievals_total",
		Help: "Index lookups made by solo sessions, by outcome",
	}, []string{"outcome"})

	retrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bebop_retrieval_duration_seconds",
		Help:    "Index lookup latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	}, []string{"outcome"})

	notesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bebop_notes_emitted_total",
		Help: "Notes sent to the output sink, by generator state",
	}, []string{"state"})

	buildFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bebop_build_files_total",
		Help: "MIDI files seen by database builds, by result",
	}, []string{"result"})

	indexRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bebop_index_records",
		Help: "Records in the published melody index",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bebop_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bebop_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

func observeRetrieval(outcome string, duration time.Duration) {
	retrievalTotal.WithLabelValues(outcome).Inc()
	retrievalDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func observeNotes(state string, n int) {
	notesEmitted.WithLabelValues(state).Add(float64(n))
}

func observeBuild(processed, failed, records int) {
	buildFiles.WithLabelValues("indexed").Add(float64(processed - failed))
	buildFiles.WithLabelValues("failed").Add(float64(failed))
	indexRecords.Set(float64(records))
}

func observeHTTP(route string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
