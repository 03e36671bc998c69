package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can run without instrumentation.
type Metrics struct {
	// business
	purchaseSagaTotal    *prometheus.CounterVec
	purchaseSagaDuration *prometheus.HistogramVec
	stockDecrementTotal  *prometheus.CounterVec
	eventPublishTotal    *prometheus.CounterVec

	// broker
	brokerDialTotal *prometheus.CounterVec
	brokerState     prometheus.Gauge

	// http
	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		purchaseSagaTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchase_saga_total",
				Help:      "Total number of purchase sagas by outcome",
			},
			[]string{"outcome"},
		),
		purchaseSagaDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "purchase_saga_duration_seconds",
				Help:      "Duration of purchase sagas",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		stockDecrementTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stock_decrement_total",
				Help:      "Total number of stock row decrements",
			},
			[]string{"result"},
		),
		eventPublishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_publish_total",
				Help:      "Total number of domain event publish attempts",
			},
			[]string{"event", "result"},
		),
		brokerDialTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broker_dial_total",
				Help:      "Total number of message broker connection attempts",
			},
			[]string{"result"},
		),
		brokerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broker_state",
				Help:      "Message broker connection state (0 disconnected, 1 connecting, 2 connected)",
			},
		),
		httpRequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_request_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordPurchaseSaga counts a finished saga and its duration.
func (m *Metrics) RecordPurchaseSaga(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.purchaseSagaTotal.WithLabelValues(outcome).Inc()
	m.purchaseSagaDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordStockDecrement(result string) {
	if m == nil {
		return
	}
	m.stockDecrementTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEventPublish(event, result string) {
	if m == nil {
		return
	}
	m.eventPublishTotal.WithLabelValues(event, result).Inc()
}

func (m *Metrics) IncBrokerDial(result string) {
	if m == nil {
		return
	}
	m.brokerDialTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBrokerState(state int) {
	if m == nil {
		return
	}
	m.brokerState.Set(float64(state))
}

// RecordHTTPRequest records one served request. path is the route template.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
