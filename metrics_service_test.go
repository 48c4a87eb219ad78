package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRecordingStarted()
		m.RecordSamplesCaptured(10)
		m.RecordLiveFrameDropped()
		m.RecordUpload(time.Second)
		m.RecordFailure(ErrorNetworkFailure)
		m.RecordWordLabels(EvaluationResult{{Label: LabelPassed}})
		m.RecordReferenceFetch("cache_hit")
	})
}

func TestMetricsWordLabels(t *testing.T) {
	m := NewMetrics()

	m.RecordWordLabels(EvaluationResult{
		{Label: LabelPassed},
		{Label: LabelPassed},
		{Label: LabelFailed},
		{Label: "excellent"},
	})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.WordLabels.WithLabelValues("passed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WordLabels.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WordLabels.WithLabelValues("other")))
}

func TestMetricsFailuresByKind(t *testing.T) {
	m := NewMetrics()

	m.RecordFailure(ErrorEmptyRecording)
	m.RecordFailure(ErrorServerError)
	m.RecordFailure(ErrorServerError)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionFailures.WithLabelValues("empty_recording")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionFailures.WithLabelValues("server_error")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordRecordingStarted()
	m.RecordUpload(250 * time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "app_english_recordings_started_total 1")
	assert.Contains(t, string(body), "app_english_upload_duration_seconds_count 1")
}

func TestNewMetricsIsIndependent(t *testing.T) {
	// Each instance owns its registry, so constructing two must not panic
	// with a duplicate registration.
	a := NewMetrics()
	b := NewMetrics()
	a.RecordRecordingStarted()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.RecordingsStarted))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.RecordingsStarted))
}
