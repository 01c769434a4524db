// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "snmp_engine"

// Metrics holds the Prometheus collectors of one engine.
type Metrics struct {
	Packets         *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	UsmStats        *prometheus.CounterVec
	PendingRequests prometheus.Gauge
	Retries         prometheus.Counter
	Timeouts        prometheus.Counter
}

// NewMetrics registers the engine collectors on reg. A nil reg gets a
// private registry so several engines can live in one process.
func NewMetrics(reg prometheus.Registerer, engineID string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	labels := prometheus.Labels{"engine_id": engineID}

	return &Metrics{
		Packets: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "packets_total",
				Help:        "SNMP messages handed to or received from the transport",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		Dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "dropped_total",
				Help:        "Incoming messages dropped without a response",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		UsmStats: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "usm_stats_total",
				Help:        "USM error counters (usmStats, RFC3414)",
				ConstLabels: labels,
			},
			[]string{"counter"},
		),
		PendingRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   metricsNamespace,
				Name:        "pending_requests",
				Help:        "Outstanding confirmed requests",
				ConstLabels: labels,
			},
		),
		Retries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "retries_total",
				Help:        "Request retransmissions",
				ConstLabels: labels,
			},
		),
		Timeouts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Name:        "timeouts_total",
				Help:        "Requests resolved with a timeout",
				ConstLabels: labels,
			},
		),
	}
}

func (m *Metrics) packet(direction string) {
	m.Packets.WithLabelValues(direction).Inc()
}

func (m *Metrics) dropped(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) usmStat(name string) {
	m.UsmStats.WithLabelValues(name).Inc()
}

func (m *Metrics) pending(n int) {
	m.PendingRequests.Set(float64(n))
}
