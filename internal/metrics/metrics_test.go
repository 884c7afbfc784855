package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/CZERTAINLY/jobcast/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	info := service.Info{ID: "1", Type: "observe", State: model.StateRunning, StartedAt: started}

	ctx := t.Context()
	series := testutil.CollectAndCount(jobDuration)
	p := model.Progress(1, 2, 50, "[1/2] (50%)")
	Observe(ctx, info, p)
	p.Seq = 1
	Observe(ctx, info, p)

	info.State = model.StateFailed
	info.EndedAt = started.Add(3 * time.Second)
	term := model.Terminal(model.StateFailed, "exit code 1")
	term.Seq = 2
	Observe(ctx, info, term)

	require.Equal(t, 1.0, testutil.ToFloat64(jobsStarted.WithLabelValues("observe")))
	require.Equal(t, 2.0, testutil.ToFloat64(eventsTotal.WithLabelValues("observe", "progress")))
	require.Equal(t, 1.0, testutil.ToFloat64(eventsTotal.WithLabelValues("observe", "terminal")))
	require.Equal(t, 1.0, testutil.ToFloat64(jobsFinished.WithLabelValues("observe", "failed")))
	require.Equal(t, series+1, testutil.CollectAndCount(jobDuration, namespace+"_job_duration_seconds"))
}

func TestSpawnFailureHasNoDuration(t *testing.T) {
	info := service.Info{ID: "2", Type: "spawnfail", State: model.StateFailed, EndedAt: time.Now()}
	series := testutil.CollectAndCount(jobDuration)
	Observe(t.Context(), info, model.Terminal(model.StateFailed, "not found"))

	require.Equal(t, 1.0, testutil.ToFloat64(jobsStarted.WithLabelValues("spawnfail")))
	require.Equal(t, 1.0, testutil.ToFloat64(jobsFinished.WithLabelValues("spawnfail", "failed")))
	require.Equal(t, series, testutil.CollectAndCount(jobDuration))
}

func TestSubscribers(t *testing.T) {
	SubscriberAttached("subs")
	SubscriberAttached("subs")
	SubscriberDetached("subs")
	SubscriberDropped("subs")
	JobsEvicted(3)

	require.Equal(t, 1.0, testutil.ToFloat64(subscribers.WithLabelValues("subs")))
	require.Equal(t, 1.0, testutil.ToFloat64(subscribersDropped.WithLabelValues("subs")))
	require.GreaterOrEqual(t, testutil.ToFloat64(jobsEvicted), 3.0)
}

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	MustRegister(reg)
	SetBuildInfo("v1.0.0", "abc")

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP jobcast_build_info A constant metric with labels for version and commit hash.
# TYPE jobcast_build_info gauge
jobcast_build_info{commit="abc",version="v1.0.0"} 1
`), "jobcast_build_info")
	require.NoError(t, err)
}
