package metrics

import (
	"context"
	"time"
)

// Recorder fans a measurement out to Prometheus, Sentry and CloudWatch.
// A nil *Recorder is valid and records only to Prometheus.
type Recorder struct {
	sentry     *SentryMetrics
	cloudwatch *Client
}

// NewRecorder builds a recorder. Either backend may be nil.
func NewRecorder(sentryMetrics *SentryMetrics, cw *Client) *Recorder {
	return &Recorder{sentry: sentryMetrics, cloudwatch: cw}
}

// RecordRetrieval records the outcome of one index lookup
func (r *Recorder) RecordRetrieval(ctx context.Context, chord, outcome string, duration time.Duration) {
	observeRetrieval(outcome, duration)
	if r == nil {
		return
	}
	if r.sentry != nil {
		r.sentry.RecordRetrieval(ctx, chord, outcome, duration)
	}
	r.cloudwatch.RecordRetrieval(outcome, duration)
}

// RecordNotes counts notes handed to an output sink
func (r *Recorder) RecordNotes(state string, n int) {
	if n <= 0 {
		return
	}
	observeNotes(state, n)
}

// RecordBuild records a finished database build
func (r *Recorder) RecordBuild(ctx context.Context, filesProcessed, fragmentsIndexed, failures int, duration time.Duration) {
	observeBuild(filesProcessed, failures, fragmentsIndexed)
	if r == nil {
		return
	}
	if r.sentry != nil {
		r.sentry.RecordBuild(ctx, filesProcessed, fragmentsIndexed, failures, duration)
	}
	r.cloudwatch.RecordBuild(filesProcessed, fragmentsIndexed, failures)
}

// RecordAPIRequest records one HTTP request
func (r *Recorder) RecordAPIRequest(ctx context.Context, route string, statusCode int, duration time.Duration) {
	observeHTTP(route, statusCode, duration)
	if r == nil {
		return
	}
	if r.sentry != nil {
		r.sentry.RecordAPIRequest(ctx, route, statusCode, duration)
	}
	r.cloudwatch.RecordAPIRequest(route, statusCode, duration)
}
