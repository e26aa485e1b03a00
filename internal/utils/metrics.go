// internal/utils/metrics.go
package utils

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the orchestration engine
type Metrics struct {
	Rounds              prometheus.Counter
	Turns               *prometheus.CounterVec // outcome: spoke, declined, timeout, refused, transport
	Events              *prometheus.CounterVec // kind
	ObjectiveCompletion prometheus.Counter
	SceneChanges        prometheus.Counter
	GenerationLatency   prometheus.Histogram
	ActiveSessions      prometheus.Gauge
	WebSocketClients    prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the process-wide metrics, registering them on first use
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Rounds: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rolerealm_rounds_total",
				Help: "Total number of orchestration rounds (human messages processed)",
			}),
			Turns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "rolerealm_turns_total",
				Help: "Actor turns by outcome",
			}, []string{"outcome"}),
			Events: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "rolerealm_timeline_events_total",
				Help: "Events appended to session timelines by kind",
			}, []string{"kind"}),
			ObjectiveCompletion: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rolerealm_objectives_completed_total",
				Help: "Objectives completed across all sessions",
			}),
			SceneChanges: promauto.NewCounter(prometheus.CounterOpts{
				Name: "rolerealm_scene_changes_total",
				Help: "Scene transitions across all sessions",
			}),
			GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "rolerealm_generation_duration_seconds",
				Help:    "Latency of per-actor generation calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			}),
			ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "rolerealm_sessions_active",
				Help: "Number of sessions currently held in memory",
			}),
			WebSocketClients: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "rolerealm_websocket_clients",
				Help: "Number of connected WebSocket observers",
			}),
		}
	})
	return globalMetrics
}

// ObserveGeneration records the duration of one generation call
func (m *Metrics) ObserveGeneration(start time.Time) {
	m.GenerationLatency.Observe(time.Since(start).Seconds())
}

// RecordTurn counts one actor turn outcome
func (m *Metrics) RecordTurn(outcome string) {
	m.Turns.WithLabelValues(outcome).Inc()
}

// RecordEvent counts one appended event
func (m *Metrics) RecordEvent(kind string) {
	m.Events.WithLabelValues(kind).Inc()
}
