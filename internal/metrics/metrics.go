package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pulsegate"

// Metrics holds the gateway's Prometheus collectors
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	UpstreamRetries  *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	TokenRefreshes   prometheus.Counter

	ConditionalResponses *prometheus.CounterVec
	ResultCache          *prometheus.CounterVec

	SharesIssued  prometheus.Counter
	QueriesServed *prometheus.CounterVec
	RateLimited   prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}), // outcome: 2xx, 4xx, 5xx, transport
		UpstreamRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Upstream attempts beyond the first, by endpoint.",
		}, []string{"endpoint"}),
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of a whole upstream call including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		TokenRefreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "token_refreshes_total",
			Help:      "Number of times the upstream bearer token was minted.",
		}),
		ConditionalResponses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "conditional_responses_total",
			Help:      "Cacheable responses by result.",
		}, []string{"result"}), // result: full, not_modified
		ResultCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "result_cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}), // result: hit, miss, error
		SharesIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "share",
			Name:      "issued_total",
			Help:      "Share tokens issued.",
		}),
		QueriesServed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "queries_total",
			Help:      "Analytics queries by origin and status class.",
		}, []string{"origin", "status"}), // origin: session, share
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
}

// StatusClass buckets an HTTP status for use as a label value
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
