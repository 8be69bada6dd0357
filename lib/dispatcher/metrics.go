package dispatcher

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrywatch_delivery_attempts_total",
			Help: "Delivery attempts by channel type and result.",
		},
		[]string{"channel_type", "result"},
	)
	notificationsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrywatch_notifications_total",
			Help: "Notifications that reached a terminal status.",
		},
		[]string{"channel_type", "status"},
	)
	deliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registrywatch_delivery_duration_seconds",
			Help:    "Duration of a single delivery attempt.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel_type"},
	)
)

func init() {
	prometheus.MustRegister(deliveryAttempts)
	prometheus.MustRegister(notificationsSettled)
	prometheus.MustRegister(deliveryDuration)
}
