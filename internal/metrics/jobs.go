package metrics

import (
	"context"

	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/CZERTAINLY/jobcast/internal/service"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		jobsStarted,
		jobsFinished,
		jobDuration,
		eventsTotal,
		jobsEvicted,
	)
}

var (
	jobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Jobs launched per job type, including the ones which failed to spawn.",
		},
		[]string{"type"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal state per job type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Worker run time from spawn to exit.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1s .. ~4.5h
		},
		[]string{"type", "outcome"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events appended to job histories per job type and kind.",
		},
		[]string{"type", "kind"},
	)

	jobsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_evicted_total",
			Help:      "Terminated jobs removed after the retention window.",
		},
	)
)

// Observe is a service.Observer counting jobs and their events. The first
// event of every job has sequence number 0, which marks the job as started.
func Observe(_ context.Context, info service.Info, e model.Event) {
	typ := string(info.Type)
	if e.Seq == 0 {
		jobsStarted.WithLabelValues(typ).Inc()
	}
	eventsTotal.WithLabelValues(typ, string(e.Kind)).Inc()
	if !e.IsTerminal() {
		return
	}
	outcome := string(e.Outcome)
	jobsFinished.WithLabelValues(typ, outcome).Inc()
	if !info.StartedAt.IsZero() {
		jobDuration.WithLabelValues(typ, outcome).Observe(info.EndedAt.Sub(info.StartedAt).Seconds())
	}
}

func JobsEvicted(n int) {
	jobsEvicted.Add(float64(n))
}
