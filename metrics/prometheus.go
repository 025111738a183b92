package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	FramesRouted  prometheus.Counter
	FramesDropped *prometheus.CounterVec

	ActiveSessions prometheus.Gauge
	ActiveStreams  prometheus.Gauge
	StreamsOpened  prometheus.Counter
	StreamsClosed  *prometheus.CounterVec

	UtterancesAdmitted prometheus.Counter
	Commits            *prometheus.CounterVec
	CommitLag          prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
	StageFailures      *prometheus.CounterVec
	StageRetries       *prometheus.CounterVec

	Listeners        prometheus.Gauge
	ListenersDropped prometheus.Counter

	PersistFailures *prometheus.CounterVec
	PersistQueue    prometheus.Gauge

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every instrument on a fresh registry, so several
// instances can coexist in tests.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesRouted: f.NewCounter(prometheus.CounterOpts{
			Name: "babel_frames_routed_total",
			Help: "Audio frames forwarded to a recognizer stream",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_frames_dropped_total",
			Help: "Audio frames dropped before reaching a recognizer",
		}, []string{"reason"}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "babel_active_sessions",
			Help: "Sessions currently connecting or active",
		}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "babel_active_streams",
			Help: "Participant recognizer streams currently open",
		}),
		StreamsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "babel_streams_opened_total",
			Help: "Participant recognizer streams opened",
		}),
		StreamsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_streams_closed_total",
			Help: "Participant recognizer streams closed",
		}, []string{"reason"}),

		UtterancesAdmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "babel_utterances_admitted_total",
			Help: "Final utterances given a sequence number",
		}),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_commits_total",
			Help: "Committed slots by outcome",
		}, []string{"outcome"}),
		CommitLag: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "babel_commit_lag_seconds",
			Help:    "Time from admission to commit",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babel_stage_duration_seconds",
			Help:    "Duration of translation and synthesis calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_stage_failures_total",
			Help: "Stage calls that failed after all retries",
		}, []string{"stage"}),
		StageRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_stage_retries_total",
			Help: "Stage call retries",
		}, []string{"stage"}),

		Listeners: f.NewGauge(prometheus.GaugeOpts{
			Name: "babel_listeners",
			Help: "Connected broadcast listeners",
		}),
		ListenersDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "babel_listeners_dropped_total",
			Help: "Listeners removed after a failed or slow delivery",
		}),

		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_persist_failures_total",
			Help: "Failed persistence writes",
		}, []string{"kind"}),
		PersistQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "babel_persist_queue",
			Help: "Committed items waiting for persistence",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "babel_http_requests_total",
			Help: "HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babel_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordStreamOpened() {
	m.StreamsOpened.Inc()
	m.ActiveStreams.Inc()
}

func (m *Metrics) RecordStreamClosed(reason string) {
	m.StreamsClosed.WithLabelValues(reason).Inc()
	m.ActiveStreams.Dec()
}

func (m *Metrics) RecordStage(stage string, elapsed time.Duration, failed bool) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if failed {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) RecordRetry(stage string) {
	m.StageRetries.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordCommit(outcome string, lag time.Duration) {
	m.Commits.WithLabelValues(outcome).Inc()
	m.CommitLag.Observe(lag.Seconds())
}

func (m *Metrics) RecordPersistFailure(kind string) {
	m.PersistFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
