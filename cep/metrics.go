package cep

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes endpoint lifecycle counters to prometheus.
// A nil *Metrics records nothing.
type Metrics struct {
	consumers *prometheus.GaugeVec
	created   *prometheus.CounterVec
	destroyed *prometheus.CounterVec
	errors    *prometheus.CounterVec
	events    *prometheus.CounterVec
}

// NewMetrics creates endpoint metrics and registers them with reg.
// Panics if registration fails, as prometheus.MustRegister does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		consumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gopipe_cep_consumers",
			Help: "Consumers currently attached to an endpoint.",
		}, []string{"endpoint"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopipe_cep_queries_created_total",
			Help: "Queries created on the engine.",
		}, []string{"endpoint"}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopipe_cep_queries_destroyed_total",
			Help: "Queries stopped and destroyed on the engine.",
		}, []string{"endpoint"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopipe_cep_query_errors_total",
			Help: "Query lifecycle errors by operation (create, teardown, misuse).",
		}, []string{"endpoint", "op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gopipe_cep_events_total",
			Help: "Engine events translated into messages.",
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.consumers, m.created, m.destroyed, m.errors, m.events)
	}
	return m
}

func (m *Metrics) setConsumers(endpoint string, n int) {
	if m == nil {
		return
	}
	m.consumers.WithLabelValues(endpoint).Set(float64(n))
}

func (m *Metrics) queryCreated(endpoint string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) queryDestroyed(endpoint string) {
	if m == nil {
		return
	}
	m.destroyed.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) queryError(endpoint, op string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(endpoint, op).Inc()
}

func (m *Metrics) eventTranslated(endpoint string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(endpoint).Inc()
}
