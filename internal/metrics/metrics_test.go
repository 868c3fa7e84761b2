package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRetrievalCounts(t *testing.T) {
	var r *Recorder
	before := testutil.ToFloat64(retrievalTotal.WithLabelValues(OutcomeTimeout))

	r.RecordRetrieval(context.Background(), "C7", OutcomeTimeout, 3*time.Millisecond)
	r.RecordRetrieval(context.Background(), "C7", OutcomeTimeout, 4*time.Millisecond)

	after := testutil.ToFloat64(retrievalTotal.WithLabelValues(OutcomeTimeout))
	assert.Equal(t, before+2, after)
}

func TestRecorderNotesIgnoresEmpty(t *testing.T) {
	r := NewRecorder(nil, nil)
	before := testutil.ToFloat64(notesEmitted.WithLabelValues("PLAYING"))

	r.RecordNotes("PLAYING", 0)
	r.RecordNotes("PLAYING", 3)

	assert.Equal(t, before+3, testutil.ToFloat64(notesEmitted.WithLabelValues("PLAYING")))
}

func TestRecorderBuildSetsIndexGauge(t *testing.T) {
	r := NewRecorder(NewSentryMetrics(), nil)
	failedBefore := testutil.ToFloat64(buildFiles.WithLabelValues("failed"))

	r.RecordBuild(context.Background(), 4, 17, 1, time.Second)

	assert.Equal(t, float64(17), testutil.ToFloat64(indexRecords))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(buildFiles.WithLabelValues("failed")))
}

func TestRecorderAPIRequest(t *testing.T) {
	r := NewRecorder(nil, nil)
	before := testutil.ToFloat64(httpRequests.WithLabelValues("/api/v1/info", "200"))
	r.RecordAPIRequest(context.Background(), "/api/v1/info", 200, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("/api/v1/info", "200")))
}

func TestCloudWatchDisabledOutsideProduction(t *testing.T) {
	cw, err := NewClient(context.Background(), "development")
	require.NoError(t, err)
	assert.False(t, cw.Enabled())

	// No-ops when disabled
	cw.RecordRetrieval(OutcomeHit, time.Millisecond)
	cw.RecordBuild(1, 1, 0)

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}

func TestCloudWatchDimensions(t *testing.T) {
	cw := &Client{environment: "staging"}
	dims := cw.dimensions("Outcome", OutcomeHit)
	require.Len(t, dims, 2)
	assert.Equal(t, "Environment", *dims[0].Name)
	assert.Equal(t, "staging", *dims[0].Value)
	assert.Equal(t, "hit", *dims[1].Value)

	assert.Len(t, cw.dimensions("", ""), 1)
}
