package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxareflect/internal/domain"
)

// Metrics contains the Prometheus instruments of the coaching client.
type Metrics struct {
	registry *prometheus.Registry

	// Voice job metrics
	JobsSubmitted prometheus.Counter
	JobPolls      *prometheus.CounterVec
	JobOutcomes   *prometheus.CounterVec
	JobDuration   prometheus.Histogram

	// Backend metrics
	BackendRequests        *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Recording metrics
	Recordings    *prometheus.CounterVec
	RecordingSize prometheus.Histogram

	// Playback metrics
	PlaybacksStarted prometheus.Counter
	PlaybackOutcomes *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxareflect_voice_jobs_submitted_total",
			Help: "Total number of voice jobs accepted by the backend",
		}),
		JobPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxareflect_voice_job_polls_total",
			Help: "Total number of voice job status polls by reported status",
		}, []string{"status"}),
		JobOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxareflect_voice_jobs_finished_total",
			Help: "Total number of voice jobs by outcome",
		}, []string{"outcome"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxareflect_voice_job_duration_seconds",
			Help:    "Time from upload to the final job outcome",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~2 minutes
		}),

		BackendRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxareflect_backend_requests_total",
			Help: "Total number of backend requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		BackendRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxareflect_backend_request_duration_seconds",
			Help:    "Duration of backend requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		Recordings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxareflect_recordings_total",
			Help: "Total number of finished recordings by target and outcome",
		}, []string{"target", "outcome"}),
		RecordingSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxareflect_recording_size_bytes",
			Help:    "Size of encoded recordings",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),

		PlaybacksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxareflect_playbacks_started_total",
			Help: "Total number of synthesized clips started",
		}),
		PlaybackOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxareflect_playbacks_finished_total",
			Help: "Total number of synthesized clips by how they ended",
		}, []string{"outcome"}),
	}
}

// Registry exposes the registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) JobSubmitted() {
	m.JobsSubmitted.Inc()
}

func (m *Metrics) JobPolled(status domain.JobStatus) {
	m.JobPolls.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) JobFinished(outcome string, elapsed time.Duration) {
	m.JobOutcomes.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(elapsed.Seconds())
}

// BackendRequest records one backend round trip.
func (m *Metrics) BackendRequest(endpoint string, outcome string, elapsed time.Duration) {
	m.BackendRequests.WithLabelValues(endpoint, outcome).Inc()
	m.BackendRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordingFinished(target domain.Target, outcome string, size int) {
	m.Recordings.WithLabelValues(string(target), outcome).Inc()
	if size > 0 {
		m.RecordingSize.Observe(float64(size))
	}
}

func (m *Metrics) PlaybackStarted() {
	m.PlaybacksStarted.Inc()
}

func (m *Metrics) PlaybackFinished(outcome string) {
	m.PlaybackOutcomes.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
