// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the data-feed engine.
type Metrics struct {
	// Pool metrics
	Acquisitions        prometheus.Counter
	AcquisitionFailures prometheus.Counter
	EndpointSuccesses   *prometheus.CounterVec
	EndpointFailures    *prometheus.CounterVec
	HealthyEndpoints    prometheus.Gauge
	LimitedEndpoints    prometheus.Gauge
	FailedEndpoints     prometheus.Gauge
	QuarantineEvents    prometheus.Counter

	// Probe metrics
	ProbeDuration prometheus.Histogram
	ProbesTotal   *prometheus.CounterVec

	// Fetch metrics
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	BatchesIssued prometheus.Counter
	BatchesFailed prometheus.Counter
	RowsFetched   prometheus.Counter
	RowsDropped   prometheus.Counter
	FetchRetries  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered on
// the given registerer. A nil registerer uses the default one.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tdx_datafeed"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Acquisitions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_acquisitions_total",
			Help:      "Total connection acquisitions from the pool",
		}),
		AcquisitionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_acquisition_failures_total",
			Help:      "Acquisitions that found no usable endpoint",
		}),
		EndpointSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_successes_total",
			Help:      "Successful uses per endpoint",
		}, []string{"endpoint"}),
		EndpointFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_failures_total",
			Help:      "Failed uses per endpoint",
		}, []string{"endpoint"}),
		HealthyEndpoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_healthy_endpoints",
			Help:      "Endpoints currently in healthy state",
		}),
		LimitedEndpoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_limited_endpoints",
			Help:      "Endpoints currently rate-limited",
		}),
		FailedEndpoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_failed_endpoints",
			Help:      "Endpoints currently quarantined",
		}),
		QuarantineEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_quarantine_events_total",
			Help:      "Endpoint transitions into quarantine",
		}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "TCP connect latency of successful probes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Probe attempts by outcome",
		}, []string{"outcome"}),
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Kline fetches by outcome",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "End-to-end kline fetch latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		BatchesIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_batches_issued_total",
			Help:      "Sub-requests issued by the batch fetcher",
		}),
		BatchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_batches_failed_total",
			Help:      "Sub-requests that errored or timed out",
		}),
		RowsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_fetched_total",
			Help:      "Raw rows returned by the wire protocol",
		}),
		RowsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows discarded during normalization",
		}),
		FetchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Whole-fetch retry attempts",
		}),
	}
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
