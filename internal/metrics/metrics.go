// Package metrics holds the Prometheus collectors for the pipeline.
//
// Every method is safe to call on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parkflow"

// Metrics is the set of pipeline collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	polls          *prometheus.CounterVec
	recordsPolled  prometheus.Counter
	recordsDropped *prometheus.CounterVec
	logOffset      *prometheus.GaugeVec
	transformErrs  *prometheus.CounterVec
	eventsEmitted  prometheus.Counter
	stateUpdates   *prometheus.CounterVec
	carparks       prometheus.Gauge
	subsActive     prometheus.Gauge
	subsDropped    prometheus.Counter
	deliveries     *prometheus.CounterVec
	deliveryTime   *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.polls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Feed polls by result",
	}, []string{"result"})
	m.recordsPolled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_polled_total",
		Help:      "Raw records appended to the raw log",
	})
	m.recordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_dropped_total",
		Help:      "Records dropped before reaching the next log, by stage",
	}, []string{"stage"})
	m.logOffset = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_last_offset",
		Help:      "Last assigned offset per log",
	}, []string{"log"})
	m.transformErrs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transform_errors_total",
		Help:      "Raw records the transformer skipped, by error code",
	}, []string{"code"})
	m.eventsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Events appended to the event log",
	})
	m.stateUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_updates_total",
		Help:      "Materializer merge decisions",
	}, []string{"result"})
	m.carparks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "carparks",
		Help:      "Keys in the materialized table",
	})
	m.subsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions_active",
		Help:      "Open subscriptions",
	})
	m.subsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_dropped_total",
		Help:      "Live deliveries dropped on subscriber queue overflow",
	})
	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "External deliveries by deliverer and result",
	}, []string{"deliverer", "result"})
	m.deliveryTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering one event, retries included",
		Buckets:   prometheus.DefBuckets,
	}, []string{"deliverer"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.recordsPolled, m.recordsDropped, m.logOffset,
		m.transformErrs, m.eventsEmitted, m.stateUpdates, m.carparks,
		m.subsActive, m.subsDropped, m.deliveries, m.deliveryTime,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PollSucceeded counts a successful poll and the records it appended.
func (m *Metrics) PollSucceeded(appended int) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.recordsPolled.Add(float64(appended))
}

// PollFailed counts a failed poll.
func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("error").Inc()
}

// RecordsDropped counts records discarded at stage.
func (m *Metrics) RecordsDropped(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.recordsDropped.WithLabelValues(stage).Add(float64(n))
}

// LogAppended records the tail offset of a log.
func (m *Metrics) LogAppended(log string, offset int64) {
	if m == nil {
		return
	}
	m.logOffset.WithLabelValues(log).Set(float64(offset))
}

// TransformFailed counts a skipped raw record.
func (m *Metrics) TransformFailed(code string) {
	if m == nil {
		return
	}
	m.transformErrs.WithLabelValues(code).Inc()
}

// EventEmitted counts an event appended by the transformer.
func (m *Metrics) EventEmitted() {
	if m == nil {
		return
	}
	m.eventsEmitted.Inc()
}

// StateApplied counts a materializer merge decision and the table size.
func (m *Metrics) StateApplied(accepted bool, keys int) {
	if m == nil {
		return
	}
	if accepted {
		m.stateUpdates.WithLabelValues("applied").Inc()
	} else {
		m.stateUpdates.WithLabelValues("discarded").Inc()
	}
	m.carparks.Set(float64(keys))
}

// SubscriptionOpened tracks a new subscription.
func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subsActive.Inc()
}

// SubscriptionClosed tracks a closed subscription.
func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subsActive.Dec()
}

// SubscriptionDropped counts a delivery lost to queue overflow.
func (m *Metrics) SubscriptionDropped() {
	if m == nil {
		return
	}
	m.subsDropped.Inc()
}

// Delivered counts one delivery outcome ("ok" or "dropped") and its duration.
func (m *Metrics) Delivered(deliverer, result string, seconds float64) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(deliverer, result).Inc()
	m.deliveryTime.WithLabelValues(deliverer).Observe(seconds)
}
