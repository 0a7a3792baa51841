package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	IntentsReceived *prometheus.CounterVec
	IntentOutcomes  *prometheus.CounterVec
	IntentDuration  prometheus.Histogram
	AdapterCalls    *prometheus.CounterVec
	AdapterRetries  *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
	InboundMessages prometheus.Counter
	TurnsPruned     prometheus.Counter
	ActiveCycles    prometheus.Gauge
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		IntentsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartlead_intents_received_total",
			Help: "Total number of intents accepted by kind",
		}, []string{"kind"}),

		IntentOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartlead_intent_outcomes_total",
			Help: "Total number of finished cycles by kind and status",
		}, []string{"kind", "status"}),

		IntentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartlead_intent_duration_seconds",
			Help:    "Full cycle latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		AdapterCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartlead_adapter_calls_total",
			Help: "Total adapter invocations by adapter and result status",
		}, []string{"adapter", "status"}),

		AdapterRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartlead_adapter_retries_total",
			Help: "Total retry attempts by adapter",
		}, []string{"adapter"}),

		TokenRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "smartlead_token_refreshes_total",
			Help: "Total credential refresh attempts by result",
		}, []string{"result"}), // "success" or "failure"

		InboundMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartlead_inbound_messages_total",
			Help: "Total inbound webhook messages processed",
		}),

		TurnsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "smartlead_conversation_turns_pruned_total",
			Help: "Total conversation turns removed by retention",
		}),

		ActiveCycles: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "smartlead_active_cycles",
			Help: "Number of orchestration cycles currently in flight",
		}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}
