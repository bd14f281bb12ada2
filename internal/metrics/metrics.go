package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signal"

// Metrics — все коллекторы сервиса на собственном реестре.
// Методы безопасны на nil-получателе.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	inbound       *prometheus.CounterVec
	joins         *prometheus.CounterVec
	leaves        prometheus.Counter
	signals       *prometheus.CounterVec
	broadcasts    prometheus.Counter
	pruned        prometheus.Counter
	rosterSize    prometheus.Histogram
	busDeliveries *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open WebSocket connections on this node.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound client messages by type.",
		}, []string{"type"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Join attempts by result.",
		}, []string{"result"}),
		leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_total",
			Help:      "Explicit or implicit room departures.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Forwarded connection-setup messages by result.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_broadcasts_total",
			Help:      "Roster broadcasts sent.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_pruned_total",
			Help:      "Participant records removed after a failed write.",
		}),
		rosterSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "roster_size",
			Help:      "Room size observed at roster broadcast.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		busDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_deliveries_total",
			Help:      "Frames routed through the cross-node bus by direction.",
		}, []string{"direction"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.inbound, m.joins, m.leaves, m.signals,
		m.broadcasts, m.pruned, m.rosterSize, m.busDeliveries,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Inbound(msgType string) {
	if m != nil {
		m.inbound.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) Join(result string) {
	if m != nil {
		m.joins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Leave() {
	if m != nil {
		m.leaves.Inc()
	}
}

func (m *Metrics) Signal(result string) {
	if m != nil {
		m.signals.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Roster(size int) {
	if m != nil {
		m.broadcasts.Inc()
		m.rosterSize.Observe(float64(size))
	}
}

func (m *Metrics) Pruned(n int) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}

func (m *Metrics) Bus(direction string) {
	if m != nil {
		m.busDeliveries.WithLabelValues(direction).Inc()
	}
}
