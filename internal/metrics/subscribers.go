package metrics

import (
	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscribers,
		subscribersDropped,
	)
}

var (
	subscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Currently streaming subscribers per job type.",
		},
		[]string{"type"},
	)

	subscribersDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers detached because they could not keep up.",
		},
		[]string{"type"},
	)
)

func SubscriberAttached(typ model.JobType) {
	subscribers.WithLabelValues(string(typ)).Inc()
}

func SubscriberDetached(typ model.JobType) {
	subscribers.WithLabelValues(string(typ)).Dec()
}

// SubscriberDropped is a service.WithDropHook callback.
func SubscriberDropped(typ model.JobType) {
	subscribersDropped.WithLabelValues(string(typ)).Inc()
}
