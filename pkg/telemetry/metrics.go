package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "messenger_console"

var (
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by outcome.",
		},
		[]string{"outcome"},
	)

	WebhookDiagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_diagnostics_total",
			Help:      "Dropped webhook fragments by payload shape.",
		},
		[]string{"shape"},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent processing one inbound event.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	OutboundSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound send attempts by result.",
		},
		[]string{"result"},
	)

	FanoutDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "Realtime events queued to a session.",
		},
	)

	FanoutDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_drops_total",
			Help:      "Realtime events dropped because a session buffer was full.",
		},
	)

	RealtimeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_sessions",
			Help:      "Connected realtime sessions.",
		},
	)

	PushNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_notifications_total",
			Help:      "Push notifications by result.",
		},
		[]string{"result"},
	)

	ArchivedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_messages_total",
			Help:      "Messages moved to the archive table.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WebhookEvents,
		WebhookDiagnostics,
		PipelineDuration,
		OutboundSends,
		FanoutDeliveries,
		FanoutDrops,
		RealtimeSessions,
		PushNotifications,
		ArchivedMessages,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
