package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	// HTTP status code threshold for considering a request successful
	successStatusCodeThreshold = http.StatusBadRequest
)

// SentryMetrics records performance spans in Sentry
type SentryMetrics struct {
	enabled bool
}

// NewSentryMetrics creates a new Sentry metrics client
func NewSentryMetrics() *SentryMetrics {
	return &SentryMetrics{
		enabled: true, // Always enabled if Sentry is configured
	}
}

// RecordAPIRequest records API request metrics
func (m *SentryMetrics) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "api.request")
	defer span.Finish()

	span.SetTag("endpoint", endpoint)
	span.SetTag("status_code", fmt.Sprintf("%d", statusCode))
	span.SetTag("success", fmt.Sprintf("%t", statusCode < successStatusCodeThreshold))

	span.SetData("duration_ms", duration.Milliseconds())
	span.SetData("endpoint", endpoint)
	span.SetData("status_code", statusCode)

	if statusCode < successStatusCodeThreshold {
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusInternalError
	}

	span.Description = fmt.Sprintf("API Request: %s", endpoint)
}

// RecordRetrieval records one index lookup made during a solo
func (m *SentryMetrics) RecordRetrieval(ctx context.Context, chord, outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "solo.retrieval")
	defer span.Finish()

	span.SetTag("outcome", outcome)
	span.SetData("chord", chord)
	span.SetData("duration_ms", duration.Milliseconds())

	switch outcome {
	case OutcomeHit:
		span.Status = sentry.SpanStatusOK
	case OutcomeTimeout:
		span.Status = sentry.SpanStatusDeadlineExceeded
	case OutcomeCancelled:
		span.Status = sentry.SpanStatusCanceled
	default:
		span.Status = sentry.SpanStatusNotFound
	}

	span.Description = fmt.Sprintf("Retrieval: %s (%s)", chord, outcome)
}

// RecordBuild records a database build
func (m *SentryMetrics) RecordBuild(ctx context.Context, filesProcessed, fragmentsIndexed, failures int, duration time.Duration) {
	if !m.enabled {
		return
	}

	span := sentry.StartSpan(ctx, "database.build")
	defer span.Finish()

	span.SetData("files_processed", filesProcessed)
	span.SetData("fragments_indexed", fragmentsIndexed)
	span.SetData("failures", failures)
	span.SetData("duration_ms", duration.Milliseconds())

	if failures == 0 {
		span.Status = sentry.SpanStatusOK
	} else {
		span.Status = sentry.SpanStatusDataLoss
	}
	span.Description = fmt.Sprintf("Database build: %d fragments", fragmentsIndexed)
}

// RecordPerformanceMetric records performance data
func (m *SentryMetrics) RecordPerformanceMetric(operation string, duration time.Duration, metadata map[string]interface{}) {
	if !m.enabled {
		return
	}

	ctx := context.Background()
	span := sentry.StartSpan(ctx, operation)
	span.Description = operation
	span.SetData("duration_ms", duration.Milliseconds())

	for key, value := range metadata {
		span.SetData(key, value)
	}

	span.Finish()
}
