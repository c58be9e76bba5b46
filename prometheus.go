package runbus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromObserver exports bus and job activity as Prometheus metrics. It
// implements Observer (attach via the builder or AddObserver) and
// HistorySink (attach via WithHistorySink for per-job outcomes).
type PromObserver struct {
	publishes       *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	jobsCompleted   *prometheus.CounterVec
}

var (
	_ Observer    = (*PromObserver)(nil)
	_ HistorySink = (*PromObserver)(nil)
)

// NewPromObserver registers the collectors on the default registerer.
func NewPromObserver(namespace string) *PromObserver {
	return NewPromObserverWith(prometheus.DefaultRegisterer, namespace)
}

// NewPromObserverWith registers the collectors on reg (use a fresh
// prometheus.NewRegistry in tests).
func NewPromObserverWith(reg prometheus.Registerer, namespace string) *PromObserver {
	o := &PromObserver{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Envelopes published by topic",
		}, []string{"topic"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Subscriber deliveries by topic and outcome",
		}, []string{"topic", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Request outcomes by topic and kind",
		}, []string{"topic", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request round-trip duration by topic",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs completed by type and status",
		}, []string{"job_type", "status"}),
	}
	reg.MustRegister(o.publishes, o.deliveries, o.requests, o.requestDuration, o.jobsCompleted)
	return o
}

func (o *PromObserver) OnBusEvent(e BusEvent) {
	switch e.Type {
	case EventPublish:
		o.publishes.WithLabelValues(e.Topic).Inc()
	case EventDeliver, EventReplay:
		o.deliveries.WithLabelValues(e.Topic, "ok").Inc()
	case EventDeliverError:
		o.deliveries.WithLabelValues(e.Topic, "panic").Inc()
	case EventRequestDone:
		outcome := e.Outcome
		if outcome == "" {
			outcome = "ok"
		}
		o.requests.WithLabelValues(e.Topic, outcome).Inc()
		if e.Duration > 0 {
			o.requestDuration.WithLabelValues(e.Topic).Observe(e.Duration.Seconds())
		}
	}
}

func (o *PromObserver) OnJobCompleted(rec JobRecord) {
	status := "ok"
	if rec.Error != "" {
		status = "error"
	}
	o.jobsCompleted.WithLabelValues(rec.JobType, status).Inc()
}

// MetricsHandler serves the default registry, for wiring into an HTTP
// mux alongside the bus.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
