// Package metrics exposes Prometheus collectors for the request pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors the limiter, transport and orchestrator
// report into. A nil *Metrics disables reporting.
type Metrics struct {
	AdmissionsTotal      *prometheus.CounterVec
	AdmissionWaitSeconds prometheus.Histogram
	QueueOverflowsTotal  prometheus.Counter
	BlocksTotal          prometheus.Counter
	TenantsActive        prometheus.Gauge

	RequestsTotal   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	RedirectsTotal  prometheus.Counter
	RequestSeconds  prometheus.Histogram
	RefreshesTotal  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass nil to use the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AdmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "b24_limiter_admissions_total",
			Help: "Total admissions released by the per-tenant limiter",
		}, []string{"domain"}),
		AdmissionWaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "b24_limiter_admission_wait_seconds",
			Help:    "Time requests spent waiting in the admission queue",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		QueueOverflowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "b24_limiter_queue_overflows_total",
			Help: "Admissions rejected because a tenant queue hit its cap",
		}),
		BlocksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "b24_limiter_blocks_total",
			Help: "Hard blocks imposed after a server-side limit breach",
		}),
		TenantsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "b24_limiter_tenants_active",
			Help: "Tenant limiter states currently held in memory",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "b24_transport_requests_total",
			Help: "HTTP requests sent, by status class",
		}, []string{"class"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "b24_transport_retries_total",
			Help: "Retries performed after 5xx responses or retryable network errors",
		}),
		RedirectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "b24_transport_redirects_total",
			Help: "Redirects followed manually by the transport",
		}),
		RequestSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "b24_transport_request_seconds",
			Help:    "Duration of individual HTTP attempts",
			Buckets: prometheus.DefBuckets,
		}),
		RefreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "b24_oauth_refreshes_total",
			Help: "OAuth refresh exchanges, by outcome",
		}, []string{"outcome"}),
	}
}
