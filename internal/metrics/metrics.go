package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call2mqtt_publish_total",
		Help: "Total number of MQTT publish attempts by topic and status",
	}, []string{"topic", "status"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call2mqtt_sessions_total",
		Help: "Total number of modem sessions ended, by outcome",
	}, []string{"outcome"})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call2mqtt_modem_events_total",
		Help: "Total number of telephony events received from the modem",
	}, []string{"type"})

	RestartCounter = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call2mqtt_restart_counter",
		Help: "Current value of the process-wide modem restart counter",
	})
)

// IncPublish records one publish attempt for the given topic.
func IncPublish(topic string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	PublishTotal.WithLabelValues(topic, status).Inc()
}

// IncSession records one ended modem session with its outcome label.
func IncSession(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// IncEvent records one event delivered by the modem driver.
func IncEvent(eventType string) {
	EventsTotal.WithLabelValues(eventType).Inc()
}
