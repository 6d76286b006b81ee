// AngelaMos | 2026
// metrics.go

package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry; nothing is registered on the
// prometheus default registerer.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	AuthEvents      *prometheus.CounterVec
	SweptUsers      prometheus.Counter
	SweepFailures   prometheus.Counter
	SweepDuration   prometheus.Histogram
	PurgedTokens    prometheus.Counter
	NotifyFailures  prometheus.Counter
	PublishFailures prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		AuthEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Auth workflow operations by event and outcome.",
		}, []string{"event", "outcome"}),
		SweptUsers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_swept_users_total",
			Help:      "Unverified users deleted by the cleanup sweep.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_sweep_failures_total",
			Help:      "Cleanup sweeps that ended with an error.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_sweep_duration_seconds",
			Help:      "Wall time of a cleanup sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		PurgedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_purged_verification_tokens_total",
			Help:      "Expired verification ledger rows removed.",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Verification messages that could not be delivered.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_failures_total",
			Help:      "Lifecycle events that could not be published.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.AuthEvents,
		m.SweptUsers,
		m.SweepFailures,
		m.SweepDuration,
		m.PurgedTokens,
		m.NotifyFailures,
		m.PublishFailures,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveSweep(deleted int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(elapsed.Seconds())
	m.SweptUsers.Add(float64(deleted))
	if err != nil {
		m.SweepFailures.Inc()
	}
}
