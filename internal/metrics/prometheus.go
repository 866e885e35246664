package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the query proxy
type Metrics struct {
	// Listener metrics
	PacketsReceived   prometheus.Counter
	ResponsesSent     prometheus.Counter
	DecodeErrors      prometheus.Counter
	RequestsDropped   prometheus.Counter
	ChallengesIssued  prometheus.Counter
	CacheWaitDuration prometheus.Histogram

	// Refresh loop metrics, labelled by cache key
	CacheRefreshes    *prometheus.CounterVec
	RefreshTimeouts   *prometheus.CounterVec
	BackendReconnects *prometheus.CounterVec
	RefreshDuration   *prometheus.HistogramVec

	// Challenge handshake metrics
	ChallengeRenegotiations prometheus.Counter
	ChallengeChanges        prometheus.Counter
}

// NewMetrics creates all metrics on the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on reg. Tests use a
// fresh registry so that several proxies can coexist in one process.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqp_packets_received_total",
			Help: "Total number of client datagrams received",
		}),
		ResponsesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqp_responses_sent_total",
			Help: "Total number of responses sent to clients",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqp_decode_errors_total",
			Help: "Total number of client datagrams that failed to decode",
		}),
		RequestsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqp_requests_dropped_total",
			Help: "Total number of decodable requests the dispatcher had no answer for",
		}),
		ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqp_challenges_issued_total",
			Help: "Total number of challenge responses issued to clients",
		}),
		CacheWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sqp_cache_wait_duration_seconds",
			Help:    "Time the dispatcher spent waiting for a cache value",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		}),

		CacheRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sqp_cache_refreshes_total",
			Help: "Total number of successful cache refreshes per key",
		}, []string{"key"}),
		RefreshTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sqp_refresh_timeouts_total",
			Help: "Total number of refresh epochs aborted by a backend timeout",
		}, []string{"key"}),
		BackendReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sqp_backend_reconnects_total",
			Help: "Total number of backend connections opened per refresh loop",
		}, []string{"key"}),
		RefreshDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sqp_refresh_duration_seconds",
			Help:    "Duration of one backend query round trip",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"key"}),

		ChallengeRenegotiations: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqp_challenge_renegotiations_total",
			Help: "Total number of challenge renegotiation round trips against the backend",
		}),
		ChallengeChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "sqp_challenge_changes_total",
			Help: "Total number of times the backend changed an already known challenge",
		}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordResponseSent increments the responses sent counter
func (m *Metrics) RecordResponseSent() {
	m.ResponsesSent.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordRequestDropped increments the dropped requests counter
func (m *Metrics) RecordRequestDropped() {
	m.RequestsDropped.Inc()
}

// RecordChallengeIssued increments the issued challenges counter
func (m *Metrics) RecordChallengeIssued() {
	m.ChallengesIssued.Inc()
}

// RecordCacheWait records how long a dispatcher call waited on the cache
func (m *Metrics) RecordCacheWait(seconds float64) {
	m.CacheWaitDuration.Observe(seconds)
}

// RecordCacheRefresh records one successful refresh for key
func (m *Metrics) RecordCacheRefresh(key string, durationSeconds float64) {
	m.CacheRefreshes.WithLabelValues(key).Inc()
	m.RefreshDuration.WithLabelValues(key).Observe(durationSeconds)
}

// RecordRefreshTimeout increments the timeout counter for key
func (m *Metrics) RecordRefreshTimeout(key string) {
	m.RefreshTimeouts.WithLabelValues(key).Inc()
}

// RecordBackendReconnect increments the reconnect counter for key
func (m *Metrics) RecordBackendReconnect(key string) {
	m.BackendReconnects.WithLabelValues(key).Inc()
}

// RecordChallengeRenegotiation increments the renegotiation counter
func (m *Metrics) RecordChallengeRenegotiation() {
	m.ChallengeRenegotiations.Inc()
}

// RecordChallengeChange increments the changed-challenge counter
func (m *Metrics) RecordChallengeChange() {
	m.ChallengeChanges.Inc()
}
