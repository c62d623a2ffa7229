package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every gateway collector; /metrics serves it.
var Registry = prometheus.NewRegistry()

const namespace = "ridergate"

// Label values shared by several collectors.
const (
	ResultSuccess      = "success"
	ResultFailed       = "failed"
	ResultNotConnected = "not_connected"
	ResultDecodeError  = "decode_error"
	ResultUnknownTopic = "unknown_topic"
	ResultPanic        = "panic"
	ResultAccepted     = "accepted"
	ResultRejected     = "rejected"
	ResultIgnored      = "ignored"
	ResultDropped      = "dropped"
)

var (
	// BrokerConnected is 1 while the MQTT link is up.
	BrokerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "Whether the MQTT broker link is up (1) or not (0).",
		},
	)

	// TransportState is 1 for the current transport state and 0 for the others.
	TransportState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_state",
			Help:      "Current transport connection state.",
		},
		[]string{"state"},
	)

	// CommandsPublishedTotal counts outbound publishes per channel and result.
	CommandsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_published_total",
			Help:      "Outbound commands by channel and result (success/failed/not_connected).",
		},
		[]string{"channel", "result"},
	)

	// PublishLatency measures the local hand-off of a publish.
	PublishLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Time to hand an outbound command to the MQTT client.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// MessagesReceivedTotal counts inbound messages per channel and result.
	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages by channel and result (success/decode_error/unknown_topic/panic).",
		},
		[]string{"channel", "result"},
	)

	// StateEventsTotal counts state store notifications.
	StateEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_events_total",
			Help:      "State change notifications by category.",
		},
		[]string{"category"},
	)

	// RobotBatteryLevel mirrors the last reported battery level.
	RobotBatteryLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "robot_battery_level_percent",
			Help:      "Last battery level reported by the robot.",
		},
	)

	// ControllerConnected mirrors the controller liveness flag.
	ControllerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "robot_controller_connected",
			Help:      "Whether the robot reports a live hand controller.",
		},
	)

	// ImageCapturesTotal counts image capture requests and responses.
	ImageCapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_captures_total",
			Help:      "Image capture lifecycle by stage (requested/response) and result.",
		},
		[]string{"stage", "result"},
	)

	// ArchiveUploadsTotal counts image archive uploads.
	ArchiveUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      "Captured frames uploaded to object storage by result.",
		},
		[]string{"result"},
	)

	// ShutdownTriggersTotal counts shutdown triggers per reason and whether they started the sequence.
	ShutdownTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdown_triggers_total",
			Help:      "Shutdown triggers by reason and result (accepted/ignored).",
		},
		[]string{"reason", "result"},
	)

	// WatchdogFiredTotal counts forced terminations.
	WatchdogFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdown_watchdog_fired_total",
			Help:      "Times the shutdown watchdog had to kill the process.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BrokerConnected,
		TransportState,
		CommandsPublishedTotal,
		PublishLatency,
		MessagesReceivedTotal,
		StateEventsTotal,
		RobotBatteryLevel,
		ControllerConnected,
		ImageCapturesTotal,
		ArchiveUploadsTotal,
		ShutdownTriggersTotal,
		WatchdogFiredTotal,
	)
}

// BoolGauge converts a flag for a gauge.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
