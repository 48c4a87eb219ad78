package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the client's Prometheus series on a private registry.
// Every Record method is safe on a nil *Metrics so services can run without it.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	RecordingsStarted prometheus.Counter
	SamplesCaptured   prometheus.Counter
	LiveFramesDropped prometheus.Counter

	// Evaluation
	Uploads         prometheus.Counter
	UploadDuration  prometheus.Histogram
	SessionFailures *prometheus.CounterVec
	WordLabels      *prometheus.CounterVec

	// Reference audio
	ReferenceFetches *prometheus.CounterVec
}

// NewMetrics creates and registers all series on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "app_english_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		SamplesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "app_english_samples_captured_total",
			Help: "Total number of PCM16 samples captured from the microphone",
		}),
		LiveFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "app_english_live_frames_dropped_total",
			Help: "Live preview frames dropped because the consumer was behind",
		}),

		Uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "app_english_uploads_total",
			Help: "Total number of recordings sent for evaluation",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "app_english_upload_duration_seconds",
			Help:    "Time from upload start to evaluation result",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "app_english_session_failures_total",
			Help: "Recording sessions that ended in Failed, by error kind",
		}, []string{"kind"}),
		WordLabels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "app_english_word_labels_total",
			Help: "Evaluated words by returned label",
		}, []string{"label"}),

		ReferenceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "app_english_reference_fetches_total",
			Help: "Reference audio lookups by outcome (cache_hit, downloaded, error)",
		}, []string{"outcome"}),
	}
}

// RecordRecordingStarted increments the recordings counter.
func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
}

// RecordSamplesCaptured adds n captured samples.
func (m *Metrics) RecordSamplesCaptured(n int) {
	if m == nil {
		return
	}
	m.SamplesCaptured.Add(float64(n))
}

// RecordLiveFrameDropped counts one live frame that did not fit the channel.
func (m *Metrics) RecordLiveFrameDropped() {
	if m == nil {
		return
	}
	m.LiveFramesDropped.Inc()
}

// RecordUpload counts an upload and its round-trip time.
func (m *Metrics) RecordUpload(d time.Duration) {
	if m == nil {
		return
	}
	m.Uploads.Inc()
	m.UploadDuration.Observe(d.Seconds())
}

// RecordFailure counts a session that ended in Failed.
func (m *Metrics) RecordFailure(kind ErrorKind) {
	if m == nil {
		return
	}
	m.SessionFailures.WithLabelValues(kind.String()).Inc()
}

// RecordWordLabels counts the label of every scored word. Unrecognised labels
// are bucketed under "other" to keep cardinality bounded.
func (m *Metrics) RecordWordLabels(result EvaluationResult) {
	if m == nil {
		return
	}
	for _, w := range result {
		label := string(w.Label)
		if !w.Label.Known() {
			label = "other"
		}
		m.WordLabels.WithLabelValues(label).Inc()
	}
}

// RecordReferenceFetch counts a reference lookup by outcome.
func (m *Metrics) RecordReferenceFetch(outcome string) {
	if m == nil {
		return
	}
	m.ReferenceFetches.WithLabelValues(outcome).Inc()
}

// Handler serves the private registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ServeMetrics exposes /metrics on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, m *Metrics, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.Infof("serving /metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
