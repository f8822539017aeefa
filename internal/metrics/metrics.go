// Package metrics provides Prometheus metrics for the idle bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	MessagesTracked prometheus.Counter
	CommandsTotal   *prometheus.CounterVec
	PersistErrors   prometheus.Counter
	TrackedMembers  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesTracked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idlewatch_messages_tracked_total",
				Help: "Total number of messages recorded in the activity store.",
			},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlewatch_commands_total",
				Help: "Total number of handled commands by command and status.",
			},
			[]string{"command", "status"},
		),
		PersistErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idlewatch_persist_errors_total",
				Help: "Total number of failed activity file writes.",
			},
		),
		TrackedMembers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlewatch_tracked_members",
				Help: "Number of members with an activity record.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.MessagesTracked)
	reg.MustRegister(m.CommandsTotal)
	reg.MustRegister(m.PersistErrors)
	reg.MustRegister(m.TrackedMembers)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommand increments the command counter.
func (m *Metrics) RecordCommand(command, status string) {
	m.CommandsTotal.WithLabelValues(command, status).Inc()
}
